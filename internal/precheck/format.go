package precheck

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
)

// Section is a titled group of results, as printed by forge doctor.
type Section struct {
	Title  string    `json:"title"`
	Result RunResult `json:"result"`
}

// FormatRunResult renders result as a table under title, one row per check.
// A hint is printed on its own row below the check it belongs to.
func FormatRunResult(title string, result RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", title)

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, r := range result.Results {
		status := "ok"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", status, r.Name, r.Message)
		if r.Hint != "" {
			fmt.Fprintf(tw, "  \t\thint: %s\n", r.Hint)
		}
	}
	tw.Flush()

	fmt.Fprintf(&b, "%d checks, %d failed (%s)\n", len(result.Results), len(result.Failed()), result.Duration)
	return b.String()
}

// FormatSectionsJSON renders sections as one indented JSON array.
func FormatSectionsJSON(sections ...Section) (string, error) {
	if sections == nil {
		sections = []Section{}
	}
	data, err := json.MarshalIndent(sections, "", "  ")
	if err != nil {
		return "", fmt.Errorf("precheck: json marshal: %w", err)
	}
	return string(data), nil
}

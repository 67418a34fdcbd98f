package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// FormatHuman returns a table of every gauge and counter sample in g.
// Histograms are summarised by their sample count.
func FormatHuman(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", fmt.Errorf("metrics: gather: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-45s %12s  %s\n", "METRIC", "VALUE", "LABELS")
	b.WriteString(strings.Repeat("-", 75) + "\n")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var parts []string
			for _, lp := range m.GetLabel() {
				parts = append(parts, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(parts)

			var value float64
			switch {
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}
			fmt.Fprintf(&b, "%-45s %12.3f  %s\n", mf.GetName(), value, strings.Join(parts, ","))
		}
	}
	return b.String(), nil
}

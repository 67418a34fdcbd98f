package statedb

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyndonlyu/serverforge/internal/rollback"
)

// FormatStatus returns a human-readable summary of the database location
// and row counts for runs and journalled snapshots.
func FormatStatus(path string, runCount, snapshotCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", path)
	fmt.Fprintf(&b, "Run records: %d\n", runCount)
	fmt.Fprintf(&b, "Snapshots: %d\n", snapshotCount)
	return b.String()
}

// FormatRunList returns a formatted table of run records with columns
// ID, STATUS, DISTRO, ROLE, FAILED, STARTED, and ENDED. Returns
// "No run records.\n" if the slice is empty.
func FormatRunList(runs []RunRecord) string {
	if len(runs) == 0 {
		return "No run records.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-16s %-8s %-12s %-12s %-22s %-22s\n", "ID", "STATUS", "DISTRO", "ROLE", "FAILED", "STARTED", "ENDED")
	for _, r := range runs {
		failed := r.FailedPhase
		if failed == "" {
			failed = "-"
		}
		fmt.Fprintf(&b, "%-36s %-16s %-8s %-12s %-12s %-22s %-22s\n", r.ID, r.Status, r.Distro, r.Role, failed, r.StartedAt, r.EndedAt)
	}
	return b.String()
}

// FormatSnapshots returns a table of a run's snapshots with their pending
// undo counts, followed by one line per action.
func FormatSnapshots(infos []rollback.SnapshotInfo) string {
	if len(infos) == 0 {
		return "No snapshots.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-12s %-10s %-8s %-8s\n", "ID", "PHASE", "STATE", "ACTIONS", "PENDING")
	for _, s := range infos {
		fmt.Fprintf(&b, "%-4d %-12s %-10s %-8d %-8d\n", s.ID, s.Phase, s.State, len(s.Actions), s.Pending())
		for _, a := range s.Actions {
			mark := " "
			if a.Undone {
				mark = "x"
			}
			fmt.Fprintf(&b, "     [%s] %s\n", mark, a)
		}
	}
	return b.String()
}

// FormatRunListJSON returns the run records as indented JSON.
func FormatRunListJSON(runs []RunRecord) (string, error) {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("statedb: json marshal: %w", err)
	}
	return string(data), nil
}

// FormatRunJSON returns one run and its snapshots as indented JSON. File
// contents are omitted.
func FormatRunJSON(run RunRecord, infos []rollback.SnapshotInfo) (string, error) {
	stripped := make([]rollback.SnapshotInfo, len(infos))
	for i, s := range infos {
		actions := make([]rollback.Action, len(s.Actions))
		for j, a := range s.Actions {
			a.Original = nil
			actions[j] = a
		}
		s.Actions = actions
		stripped[i] = s
	}
	data, err := json.MarshalIndent(struct {
		Run       RunRecord               `json:"run"`
		Snapshots []rollback.SnapshotInfo `json:"snapshots"`
	}{run, stripped}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("statedb: json marshal: %w", err)
	}
	return string(data), nil
}

package rollback

// Quality grades the completeness of a rollback pass.
type Quality string

const (
	QualityFull    Quality = "FULL"    // every pending undo succeeded
	QualityPartial Quality = "PARTIAL" // some undos failed or were not attempted
	QualityNone    Quality = "NONE"    // nothing could be undone
)

// Report captures the outcome of a rollback pass.
type Report struct {
	Quality      Quality    `json:"quality"`
	From         SnapshotID `json:"from"`
	Snapshots    int        `json:"snapshots"`
	Undone       int        `json:"undone"`
	Skipped      int        `json:"skipped"` // already undone by an earlier pass
	NotAttempted int        `json:"not_attempted"`
	Failures     []Failure  `json:"failures,omitempty"`
}

func (r *Report) grade() {
	switch {
	case len(r.Failures) == 0 && r.NotAttempted == 0:
		r.Quality = QualityFull
	case r.Undone == 0:
		r.Quality = QualityNone
	default:
		r.Quality = QualityPartial
	}
}

// Err returns the aggregated undo failures, or nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &UndoError{Failures: append([]Failure(nil), r.Failures...)}
}

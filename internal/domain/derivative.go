package domain

// DefaultTargetWidths is the configured width ladder for sized
// derivatives, ascending.
var DefaultTargetWidths = []int{480, 960, 1440, 1920}

// DefaultMaxWidth caps which ladder entries are actually produced.
const DefaultMaxWidth = 1440

const (
	// StatusWritten means the derivative was produced and stored.
	StatusWritten = "written"
	// StatusSkippedExists means the derivative key was already present.
	StatusSkippedExists = "skipped_exists"
	// StatusFailed means this target failed; siblings are unaffected.
	StatusFailed = "failed"
)

// TargetResult is the outcome of one derivative target. Width 0 is the
// canonical derivative.
type TargetResult struct {
	Key    string `json:"key"`
	Width  int    `json:"width"`
	Status string `json:"status"`
	Bytes  int    `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report summarizes a single invocation. A non-empty SkipReason means
// the invocation ended as a benign skip without producing targets.
type Report struct {
	Bucket     string         `json:"bucket"`
	Key        string         `json:"key"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Targets    []TargetResult `json:"targets,omitempty"`
}

func (r Report) Skipped() bool {
	return r.SkipReason != ""
}

// CountByStatus returns how many targets ended in the given status.
func (r Report) CountByStatus(status string) int {
	n := 0
	for _, t := range r.Targets {
		if t.Status == status {
			n++
		}
	}
	return n
}

// FilterWidths returns the widths not exceeding maxWidth, preserving
// order. It never deduplicates; the ladder is trusted as configured.
func FilterWidths(widths []int, maxWidth int) []int {
	out := make([]int, 0, len(widths))
	for _, w := range widths {
		if w <= maxWidth {
			out = append(out, w)
		}
	}
	return out
}

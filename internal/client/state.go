package client

// State is a Controller run phase.
type State int

const (
	StateIdle State = iota
	StateBulkFetch
	StateGapAnalysis
	StateGapFill
	StateFinalize
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBulkFetch:
		return "bulk_fetch"
	case StateGapAnalysis:
		return "gap_analysis"
	case StateGapFill:
		return "gap_fill"
	case StateFinalize:
		return "finalize"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

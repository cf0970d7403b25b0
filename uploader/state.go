package uploader

// State is the lifecycle state of a Session.
type State int32

const (
	StateInit State = iota
	StateResolving
	StateNegotiating
	StateUploading
	StatePaused
	StateMerging
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateResolving:
		return "resolving"
	case StateNegotiating:
		return "negotiating"
	case StateUploading:
		return "uploading"
	case StatePaused:
		return "paused"
	case StateMerging:
		return "merging"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can no longer make progress.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

package chunk

// Status is the lifecycle position of a single chunk within an upload session.
type Status uint8

const (
	// StatusPending means the chunk has not been loaded into memory yet.
	StatusPending Status = iota
	// StatusLoaded means the chunk bytes sit in the read-ahead queue.
	StatusLoaded
	// StatusInflight means an upload request for the chunk is outstanding.
	StatusInflight
	// StatusConfirmed means the server acknowledged the chunk in this session.
	StatusConfirmed
	// StatusSkipped means the server already had the chunk before the session started.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoaded:
		return "loaded"
	case StatusInflight:
		return "inflight"
	case StatusConfirmed:
		return "confirmed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Done reports whether the chunk needs no further upload.
func (s Status) Done() bool {
	return s == StatusConfirmed || s == StatusSkipped
}

package uploader

import (
	"github.com/bitrise-io/go-chunkupload/chunk"
)

// Snapshot is a consistent view of a session, taken by the run loop after every
// batch of events.
type Snapshot struct {
	State      State
	Identifier string

	ChunksNeedSend int
	SizeNeedSend   int64

	// Done is the number of chunks confirmed or skipped.
	Done int
	// Counts holds the number of chunks per status.
	Counts map[chunk.Status]int
	// Statuses holds the status of every chunk by index.
	Statuses []chunk.Status

	Queued  int
	Loading int
	Active  int
}

// Snapshot returns the latest published snapshot. The returned value must not be modified.
func (s *Session) Snapshot() Snapshot {
	return *s.published.Load()
}

func (s *Session) publish() {
	statuses := make([]chunk.Status, len(s.statuses))
	copy(statuses, s.statuses)

	counts := map[chunk.Status]int{}
	done := 0
	for _, st := range statuses {
		counts[st]++
		if st.Done() {
			done++
		}
	}

	s.published.Store(&Snapshot{
		State:          s.state,
		Identifier:     s.identifier,
		ChunksNeedSend: s.index.ChunksNeedSend(),
		SizeNeedSend:   s.index.SizeNeedSend(),
		Done:           done,
		Counts:         counts,
		Statuses:       statuses,
		Queued:         len(s.queue),
		Loading:        s.loading,
		Active:         len(s.active),
	})
}

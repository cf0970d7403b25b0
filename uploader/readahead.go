package uploader

import (
	"github.com/bitrise-io/go-chunkupload/chunk"
)

type readDoneMsg struct {
	epoch uint64
	index int
	data  []byte
	err   error
}

// fill starts reads for as many pending chunks as the memory budget allows. Chunks
// being read count against the budget like queued ones.
func (s *Session) fill() {
	if s.state != StateUploading {
		return
	}

	room := s.maxLoadChunks - len(s.queue) - s.loading
	for _, index := range s.index.TakeNextPending(room) {
		s.load(index)
	}
}

func (s *Session) load(index int) {
	s.loading++

	ctx, epoch := s.runCtx, s.epoch
	offset, length := s.layout.Offset(index), s.layout.Length(index)
	s.spawn(func() message {
		data, err := s.reader.ReadChunk(ctx, offset, length)
		return readDoneMsg{epoch: epoch, index: index, data: data, err: err}
	})
}

func (s *Session) readDone(m readDoneMsg) {
	if m.epoch != s.epoch || s.state.Terminal() {
		return
	}
	s.loading--

	if m.err != nil {
		// Parked until the next pause puts it back into the pending list.
		s.stalled[m.index] = struct{}{}
		s.metrics.chunkFailed(failureRead)
		s.logger.Warnf("Failed to read chunk %d: %s", m.index, m.err)
		s.emitError(&ReadError{Index: m.index, Err: m.err})
		return
	}

	s.queue = append(s.queue, chunk.Loaded{Index: m.index, Data: m.data, Length: s.layout.Length(m.index)})
	s.statuses[m.index] = chunk.StatusLoaded
	s.dispatch()
}

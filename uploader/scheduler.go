package uploader

import (
	"context"
	"time"

	"github.com/bitrise-io/go-chunkupload/chunk"
	"github.com/docker/go-units"
)

// task is an outstanding chunk upload.
type task struct {
	index   int
	length  int64
	started time.Time
	cancel  context.CancelFunc
	// failed tasks keep their slot until the next pause.
	failed bool
}

type uploadDoneMsg struct {
	task *task
	err  error
}

// dispatch starts uploads for queued chunks while slots are free.
func (s *Session) dispatch() {
	dropped := false
	for s.state == StateUploading && len(s.queue) > 0 && len(s.active) < s.config.MaxConcurrency {
		next := s.queue[0]
		s.queue[0] = chunk.Loaded{}
		s.queue = s.queue[1:]

		// Negotiation may report a chunk as stored after it was loaded.
		if s.index.IsSkipped(next.Index) {
			s.statuses[next.Index] = chunk.StatusSkipped
			dropped = true
			continue
		}

		s.send(next)
	}

	if dropped {
		s.fill()
	}
}

func (s *Session) send(loaded chunk.Loaded) {
	ctx, cancel := context.WithCancel(s.runCtx)
	t := &task{
		index:   loaded.Index,
		length:  loaded.Length,
		started: s.now(),
		cancel:  cancel,
	}
	s.active[t.index] = t
	s.statuses[t.index] = chunk.StatusInflight

	s.logger.Debugf("Sending chunk %d/%d (%s) [active=%d]",
		t.index+1, s.layout.TotalChunks(), units.BytesSize(float64(t.length)), len(s.active))

	id, data := s.identifier, loaded.Data
	s.spawn(func() message {
		s.metrics.requestStarted()
		defer s.metrics.requestFinished()

		err := s.remote.UploadChunk(ctx, id, t.index, data)
		return uploadDoneMsg{task: t, err: err}
	})
}

func (s *Session) uploadDone(m uploadDoneMsg) {
	t := m.task
	// Tasks aborted by pause or cancel are no longer active.
	if s.active[t.index] != t || s.state.Terminal() {
		return
	}

	if m.err != nil {
		t.failed = true
		s.metrics.chunkFailed(failureUpload)
		s.logger.Warnf("Chunk %d failed: %s", t.index, m.err)
		s.emitError(&ChunkUploadError{Index: t.index, Err: m.err})
		return
	}

	t.cancel()
	delete(s.active, t.index)
	s.statuses[t.index] = chunk.StatusConfirmed
	s.confirmed++

	took := s.now().Sub(t.started)
	s.metrics.chunkUploaded(t.length, took)
	s.logger.Debugf("Chunk %d uploaded in %s", t.index, took.Round(time.Millisecond))
	s.emitProgress(s.estimator.Update(t.length))

	if s.confirmed == s.index.ChunksNeedSend() {
		s.merge()
		return
	}

	s.fill()
	s.dispatch()
}

// abort cancels every outstanding upload and puts aborted, failed and unreadable
// chunks back into the pending list.
func (s *Session) abort() {
	requeue := make([]int, 0, len(s.active)+len(s.stalled))
	for index, t := range s.active {
		t.cancel()
		requeue = append(requeue, index)
	}
	for index := range s.stalled {
		requeue = append(requeue, index)
	}
	for _, index := range requeue {
		s.statuses[index] = chunk.StatusPending
	}

	s.active = map[int]*task{}
	s.stalled = map[int]struct{}{}
	s.index.Requeue(requeue...)

	if len(requeue) > 0 {
		s.logger.Debugf("Requeued %d chunks", len(requeue))
	}
}

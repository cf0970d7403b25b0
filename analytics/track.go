// Package analytics reports the outcome of upload sessions.
package analytics

import (
	"errors"
	"time"

	"github.com/bitrise-io/go-chunkupload/uploader"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	BuildSlugEnvKey = "BITRISE_BUILD_SLUG"
	AppSlugEnvKey   = "BITRISE_APP_SLUG"
	WorkflowEnvKey  = "BITRISE_TRIGGERED_WORKFLOW_ID"

	SessionCompletedEvent = "chunk_upload_session_completed"
	SessionFailedEvent    = "chunk_upload_session_failed"
)

// Session is the part of an upload session the tracker observes.
type Session interface {
	On(t uploader.EventType, l uploader.Listener) (off func())
	Snapshot() uploader.Snapshot
	Progress() uploader.Progress
}

// UploadTracker sends one event per finished upload session.
type UploadTracker struct {
	tracker analytics.Tracker
	now     func() time.Time
}

func NewUploadTracker(repository env.Repository, trackerFactory TrackerFactory, appID string) *UploadTracker {
	p := analytics.Properties{
		"app_id":     appID,
		"build_slug": repository.Get(BuildSlugEnvKey),
		"app_slug":   repository.Get(AppSlugEnvKey),
		"workflow":   repository.Get(WorkflowEnvKey),
	}
	return &UploadTracker{
		tracker: trackerFactory(p),
		now:     time.Now,
	}
}

func NewDefaultUploadTracker(repository env.Repository, appID string, logger log.Logger) *UploadTracker {
	return NewUploadTracker(repository, func(p ...analytics.Properties) analytics.Tracker {
		return analytics.NewDefaultTracker(logger, p...)
	}, appID)
}

// Attach subscribes to the session's complete and fatal error events. The returned
// function unsubscribes.
func (t *UploadTracker) Attach(s Session) (detach func()) {
	start := t.now()

	offComplete := s.On(uploader.EventComplete, func(e uploader.Event) {
		snapshot := s.Snapshot()
		properties := analytics.Properties{
			"identifier":          snapshot.Identifier,
			"upload_time_s":       t.now().Sub(start).Truncate(time.Second).Seconds(),
			"uploaded_size_bytes": e.Progress.UploadedSize,
			"chunk_count":         len(snapshot.Statuses),
			"skipped_chunk_count": len(snapshot.Statuses) - snapshot.ChunksNeedSend,
			"deduplicated":        e.Progress.UploadedSize == 0 && snapshot.SizeNeedSend > 0,
		}
		t.tracker.Enqueue(SessionCompletedEvent, properties)
	})

	offError := s.On(uploader.EventError, func(e uploader.Event) {
		var phaseErr *uploader.PhaseError
		if !errors.As(e.Err, &phaseErr) {
			// Chunk level failures do not end the session.
			return
		}
		properties := analytics.Properties{
			"identifier":          s.Snapshot().Identifier,
			"phase":               string(phaseErr.Phase),
			"error":               e.Err.Error(),
			"upload_time_s":       t.now().Sub(start).Truncate(time.Second).Seconds(),
			"uploaded_size_bytes": s.Progress().UploadedSize,
		}
		t.tracker.Enqueue(SessionFailedEvent, properties)
	})

	return func() {
		offComplete()
		offError()
	}
}

// Wait blocks until the queued events are sent.
func (t *UploadTracker) Wait() {
	t.tracker.Wait()
}

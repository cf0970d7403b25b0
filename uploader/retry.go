package uploader

import (
	"context"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

// retryingRemote retries failed chunk uploads. Verify and merge are passed through.
type retryingRemote struct {
	Remote
	times  uint
	wait   time.Duration
	logger log.Logger
}

func withRetry(remote Remote, times int, wait time.Duration, logger log.Logger) Remote {
	if times <= 0 {
		return remote
	}
	return &retryingRemote{Remote: remote, times: uint(times), wait: wait, logger: logger}
}

func (r *retryingRemote) UploadChunk(ctx context.Context, identifier string, index int, data []byte) error {
	return retry.Times(r.times).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			if err := sleep(ctx, r.wait); err != nil {
				return err, true
			}
			r.logger.Debugf("Retrying chunk %d (attempt %d/%d)", index, attempt+1, r.times+1)
		}

		err := r.Remote.UploadChunk(ctx, identifier, index, data)
		if err == nil {
			return nil, true
		}
		if ctx.Err() != nil {
			return err, true
		}

		r.logger.Warnf("Chunk %d attempt %d failed: %s", index, attempt+1, err)
		return err, false
	})
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

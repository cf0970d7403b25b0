package uploader

import (
	"math"
	"sync"
	"time"
)

// UnknownTimeRemaining is reported while no throughput has been measured.
const UnknownTimeRemaining = time.Duration(math.MaxInt64)

// Progress describes the transfer of a session.
type Progress struct {
	// Progress is UploadedSize / SizeNeedSend rounded to two decimals.
	Progress float64
	// UploadedSize is the number of bytes confirmed since the session started.
	UploadedSize int64
	// SessionUploadedSize is the number of bytes confirmed since the last resume.
	SessionUploadedSize int64
	// AverageSpeed is in bytes per second, measured since the last resume.
	AverageSpeed int64
	// TimeRemaining is UnknownTimeRemaining until the first chunk is confirmed.
	TimeRemaining time.Duration
}

// Estimator derives throughput and ETA from confirmed chunks.
type Estimator struct {
	sizeNeedSend int64
	uploaded     int64
	session      int64
	start        time.Time
	last         Progress
	now          func() time.Time
	mu           sync.Mutex
}

// NewEstimator creates an Estimator with nothing to send.
func NewEstimator() *Estimator {
	e := &Estimator{now: time.Now}
	e.Reset()
	return e
}

// Reset zeroes every counter.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sizeNeedSend = 0
	e.uploaded = 0
	e.session = 0
	e.start = time.Time{}
	e.last = Progress{TimeRemaining: UnknownTimeRemaining}
}

// Start begins measuring a transfer of sizeNeedSend bytes.
func (e *Estimator) Start(sizeNeedSend int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sizeNeedSend = sizeNeedSend
	e.uploaded = 0
	e.session = 0
	e.start = e.now()
	e.last = Progress{TimeRemaining: UnknownTimeRemaining}
}

// Restart begins a new speed measurement, keeping the uploaded total.
func (e *Estimator) Restart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = 0
	e.start = e.now()
	e.last.SessionUploadedSize = 0
}

// Update records a confirmed chunk of length bytes.
func (e *Estimator) Update(length int64) Progress {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.uploaded += length
	e.session += length

	elapsed := e.now().Sub(e.start)
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}
	speed := int64(float64(e.session) / elapsed.Seconds())

	remaining := UnknownTimeRemaining
	if speed > 0 {
		remaining = time.Duration((e.sizeNeedSend-e.uploaded)/speed) * time.Second
	}

	var progress float64
	if e.sizeNeedSend > 0 {
		progress = math.Round(float64(e.uploaded)/float64(e.sizeNeedSend)*100) / 100
	}

	e.last = Progress{
		Progress:            progress,
		UploadedSize:        e.uploaded,
		SessionUploadedSize: e.session,
		AverageSpeed:        speed,
		TimeRemaining:       remaining,
	}
	return e.last
}

// Snapshot returns the latest progress.
func (e *Estimator) Snapshot() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

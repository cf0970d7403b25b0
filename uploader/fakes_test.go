package uploader

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-chunkupload/chunk"
	"github.com/bitrise-io/go-chunkupload/network"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu sync.Mutex

	verify    network.VerifyResponse
	verifyErr error
	mergeErr  error
	handler   func(ctx context.Context, index int) error

	verifies    int
	merges      int
	attempts    map[int]int
	confirmed   map[int]int
	received    map[int][]byte
	inflight    int
	maxInflight int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		verify:    network.VerifyResponse{NeedUpload: true},
		attempts:  map[int]int{},
		confirmed: map[int]int{},
		received:  map[int][]byte{},
	}
}

func (r *fakeRemote) Verify(context.Context, string, string) (network.VerifyResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifies++
	return r.verify, r.verifyErr
}

func (r *fakeRemote) UploadChunk(ctx context.Context, _ string, index int, data []byte) error {
	r.mu.Lock()
	r.attempts[index]++
	r.inflight++
	if r.inflight > r.maxInflight {
		r.maxInflight = r.inflight
	}
	handler := r.handler
	r.mu.Unlock()

	var err error
	if handler != nil {
		err = handler(ctx, index)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	if err == nil {
		r.confirmed[index]++
		r.received[index] = data
	}
	return err
}

func (r *fakeRemote) Merge(context.Context, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merges++
	return r.mergeErr
}

func (r *fakeRemote) setHandler(h func(ctx context.Context, index int) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *fakeRemote) attemptsOf(index int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[index]
}

func (r *fakeRemote) totalAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.attempts {
		total += n
	}
	return total
}

func (r *fakeRemote) confirmedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmed)
}

func (r *fakeRemote) inflightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// blockUntil returns a handler that succeeds when release yields and fails when
// the request is aborted.
func blockUntil(release <-chan struct{}) func(ctx context.Context, index int) error {
	return func(ctx context.Context, _ int) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flakyReader fails the first read at each of the given offsets.
type flakyReader struct {
	chunk.Reader
	mu    sync.Mutex
	fails map[int64]bool
}

func (r *flakyReader) ReadChunk(ctx context.Context, offset, length int64) ([]byte, error) {
	r.mu.Lock()
	fail := r.fails[offset]
	delete(r.fails, offset)
	r.mu.Unlock()

	if fail {
		return nil, errors.New("device not ready")
	}
	return r.Reader.ReadChunk(ctx, offset, length)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(s *Session) *recorder {
	r := &recorder{}
	for _, t := range []EventType{EventProgress, EventComplete, EventError} {
		s.On(t, func(e Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
		})
	}
	return r
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testData(size int) []byte {
	return bytes.Repeat([]byte("abcdefghij"), size/10+1)[:size]
}

func testConfig(size, chunkSize int64) Config {
	config := DefaultConfig()
	config.Size = size
	config.ChunkSize = chunkSize
	config.MaxMemory = 100 * chunkSize
	config.UploadURL = "https://uploads.example.com/chunk"
	config.VerifyURL = "https://uploads.example.com/verify"
	config.MergeURL = "https://uploads.example.com/merge"
	config.FileName = "file.bin"
	config.RetryWait = 0
	return config
}

func newTestSession(t *testing.T, config Config, reader chunk.Reader, remote Remote) *Session {
	t.Helper()
	s, err := New(config, reader, remote, log.NewLogger())
	require.NoError(t, err)
	return s
}

func runAsync(ctx context.Context, s *Session) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish in time")
		return nil
	}
}

func statusSet(snapshot Snapshot, statuses ...chunk.Status) map[int]bool {
	out := map[int]bool{}
	for i, st := range snapshot.Statuses {
		for _, want := range statuses {
			if st == want {
				out[i] = true
			}
		}
	}
	return out
}

// Package uploader implements a resumable chunked upload session: it resolves the
// session identifier, negotiates already stored chunks with the server, uploads the
// rest under a concurrency and memory budget and finally asks the server to merge.
package uploader

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-chunkupload/chunk"
	"github.com/bitrise-io/go-chunkupload/identifier"
	"github.com/bitrise-io/go-chunkupload/network"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Remote is the server side of a session.
type Remote interface {
	Verify(ctx context.Context, identifier, fileName string) (network.VerifyResponse, error)
	UploadChunk(ctx context.Context, identifier string, index int, data []byte) error
	Merge(ctx context.Context, identifier, fileName string) error
}

type idleCloser interface {
	CloseIdleConnections()
}

// Option customizes a Session.
type Option func(*Session)

// WithMetrics records the session in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdCancel
)

type resolvedMsg struct {
	epoch  uint64
	result identifier.Result
	err    error
}

type negotiatedMsg struct {
	epoch    uint64
	response network.VerifyResponse
	err      error
}

type mergedMsg struct {
	epoch uint64
	err   error
}

// Session uploads one file. All session state is owned by the goroutine executing
// Run; the other methods are safe for concurrent use.
type Session struct {
	config        Config
	layout        chunk.Layout
	maxLoadChunks int
	reader        chunk.Reader
	remote        Remote
	resolver      *identifier.Resolver
	estimator     *Estimator
	metrics       *Metrics
	logger        log.Logger
	idle          idleCloser

	bus       *bus
	mailbox   *mailbox
	running   atomic.Bool
	published atomic.Pointer[Snapshot]
	wg        sync.WaitGroup

	// Owned by the run loop.
	runCtx     context.Context
	epoch      uint64
	state      State
	identifier string
	index      *chunk.Index
	statuses   []chunk.Status
	queue      []chunk.Loaded
	loading    int
	stalled    map[int]struct{}
	active     map[int]*task
	confirmed  int
	finished   bool
	result     error

	// observe is called on the run loop after every handled message.
	observe func(*Session)
}

// New creates a Session reading the file through reader and talking to remote.
func New(config Config, reader chunk.Reader, remote Remote, logger log.Logger, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	layout, err := chunk.NewLayout(config.Size, config.ChunkSize)
	if err != nil {
		return nil, err
	}

	s := &Session{
		config:        config,
		layout:        layout,
		maxLoadChunks: config.MaxLoadChunks(),
		reader:        reader,
		remote:        withRetry(remote, config.MaxRetryPerChunk, config.RetryWait, logger),
		estimator:     NewEstimator(),
		logger:        logger,
		bus:           newBus(),
		mailbox:       newMailbox(),
		index:         chunk.NewIndex(layout),
	}
	if c, ok := remote.(idleCloser); ok {
		s.idle = c
	}
	s.resolver = identifier.NewResolver(identifier.Config{
		Layout:        layout,
		ContentHash:   config.TestChunks,
		MaxMemory:     config.MaxMemory,
		MaxLoadChunks: s.maxLoadChunks,
		Generator:     config.GenerateIdentifier,
		AppID:         config.AppID,
	}, reader, logger)

	for _, opt := range opts {
		opt(s)
	}

	s.reset()
	s.publish()

	return s, nil
}

// Open creates a Session for config.TempFilePath using the configured endpoints.
// A zero config.Size is taken from the file. Close releases the file.
func Open(config Config, logger log.Logger, opts ...Option) (*Session, error) {
	reader, err := chunk.NewFileReader(config.TempFilePath)
	if err != nil {
		return nil, err
	}
	if config.Size == 0 {
		config.Size = reader.Size()
	}

	s, err := New(config, reader, network.NewClient(config.ClientParams(), logger), logger, opts...)
	if err != nil {
		if cerr := reader.Close(); cerr != nil {
			logger.Warnf("Failed to close %s: %s", config.TempFilePath, cerr)
		}
		return nil, err
	}

	return s, nil
}

// Close releases the reader and the idle connections of the remote.
func (s *Session) Close() error {
	if s.idle != nil {
		s.idle.CloseIdleConnections()
	}
	if c, ok := s.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// On registers l for events of type t. The returned function unregisters it.
func (s *Session) On(t EventType, l Listener) (off func()) {
	return s.bus.on(t, l)
}

// Pause aborts in-flight uploads and stops dispatching. Ignored unless uploading.
func (s *Session) Pause() {
	s.mailbox.post(cmdPause)
}

// Resume continues a paused session. Ignored unless paused.
func (s *Session) Resume() {
	s.mailbox.post(cmdResume)
}

// Cancel aborts the session and resets it; Run returns ErrCanceled and the session
// can be run again from scratch. Commands posted before Run starts apply to that run.
func (s *Session) Cancel() {
	s.mailbox.post(cmdCancel)
}

// State returns the state as of the last handled batch of events.
func (s *Session) State() State {
	return s.published.Load().State
}

// Identifier returns the resolved identifier, empty before resolution.
func (s *Session) Identifier() string {
	return s.published.Load().Identifier
}

// Progress returns the latest progress.
func (s *Session) Progress() Progress {
	return s.estimator.Snapshot()
}

// Run executes the session and blocks until it completes, fails or is canceled.
// Cancelling ctx aborts in-flight requests and fails the session.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	if s.state.Terminal() {
		return ErrTerminated
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.finished = false
	s.result = nil

	s.resolve()
	s.publish()

	for !s.finished {
		select {
		case <-s.mailbox.ready():
			for _, msg := range s.mailbox.drain() {
				s.handle(msg)
				if s.observe != nil {
					s.observe(s)
				}
				if s.finished {
					break
				}
			}
		case <-runCtx.Done():
			s.interrupt(ctx.Err())
		}
		s.publish()
	}

	cancelRun()
	s.wg.Wait()
	s.mailbox.drain()
	s.runCtx = nil

	return s.result
}

func (s *Session) handle(msg message) {
	switch m := msg.(type) {
	case command:
		switch m {
		case cmdPause:
			s.pause()
		case cmdResume:
			s.resume()
		case cmdCancel:
			s.cancel()
		}
	case resolvedMsg:
		s.resolved(m)
	case negotiatedMsg:
		s.negotiated(m)
	case readDoneMsg:
		s.readDone(m)
	case uploadDoneMsg:
		s.uploadDone(m)
	case mergedMsg:
		s.merged(m)
	}
}

// spawn runs fn on its own goroutine and posts its result to the run loop.
func (s *Session) spawn(fn func() message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.mailbox.post(fn())
	}()
}

func (s *Session) resolve() {
	s.state = StateResolving
	s.logger.Infof("Resolving upload identifier")

	ctx, epoch := s.runCtx, s.epoch
	s.spawn(func() message {
		result, err := s.resolver.Resolve(ctx)
		return resolvedMsg{epoch: epoch, result: result, err: err}
	})
}

func (s *Session) resolved(m resolvedMsg) {
	if m.epoch != s.epoch || s.state != StateResolving {
		return
	}
	if m.err != nil {
		s.fail(&PhaseError{Phase: PhaseResolve, Err: m.err})
		return
	}

	s.identifier = m.result.Identifier
	s.logger.Donef("Identifier: %s", s.identifier)

	if len(m.result.Retained) > 0 {
		retained := make([]int, 0, len(m.result.Retained))
		for _, loaded := range m.result.Retained {
			s.queue = append(s.queue, loaded)
			s.statuses[loaded.Index] = chunk.StatusLoaded
			retained = append(retained, loaded.Index)
		}
		s.index.Remove(retained...)
		s.logger.Debugf("Kept %d chunks in memory from hashing", len(retained))
	}

	if !s.config.TestChunks {
		s.startUpload()
		return
	}

	s.state = StateNegotiating
	ctx, epoch, id := s.runCtx, s.epoch, s.identifier
	s.spawn(func() message {
		response, err := s.remote.Verify(ctx, id, s.config.FileName)
		return negotiatedMsg{epoch: epoch, response: response, err: err}
	})
}

func (s *Session) negotiated(m negotiatedMsg) {
	if m.epoch != s.epoch || s.state != StateNegotiating {
		return
	}
	if m.err != nil {
		s.fail(&PhaseError{Phase: PhaseNegotiate, Err: m.err})
		return
	}

	if !m.response.NeedUpload {
		s.logger.Donef("File is already stored on the server")
		s.queue = nil
		s.complete(resultDeduplicated)
		return
	}

	s.index.ApplyResumeSet(m.response.UploadedChunks)
	for _, i := range s.index.Skipped() {
		s.statuses[i] = chunk.StatusSkipped
	}
	if skipped := len(s.index.Skipped()); skipped > 0 {
		s.logger.Infof("Resuming: %d of %d chunks are already stored", skipped, s.layout.TotalChunks())
	}

	s.startUpload()
}

func (s *Session) startUpload() {
	s.state = StateUploading
	s.estimator.Start(s.index.SizeNeedSend())
	s.logger.Infof("Uploading %d chunks with concurrency %d", s.index.ChunksNeedSend(), s.config.MaxConcurrency)

	if s.index.ChunksNeedSend() == 0 {
		s.merge()
		return
	}

	s.fill()
	s.dispatch()
}

func (s *Session) merge() {
	s.state = StateMerging
	s.logger.Infof("All chunks uploaded, merging")

	ctx, epoch, id := s.runCtx, s.epoch, s.identifier
	s.spawn(func() message {
		return mergedMsg{epoch: epoch, err: s.remote.Merge(ctx, id, s.config.FileName)}
	})
}

func (s *Session) merged(m mergedMsg) {
	if m.epoch != s.epoch || s.state != StateMerging {
		return
	}
	if m.err != nil {
		s.fail(&PhaseError{Phase: PhaseMerge, Err: m.err})
		return
	}

	s.logger.Donef("Upload complete")
	s.complete(resultComplete)
}

func (s *Session) pause() {
	if s.state != StateUploading {
		s.logger.Debugf("Ignoring pause in state %s", s.state)
		return
	}

	s.abort()
	s.state = StatePaused
	s.logger.Infof("Upload paused")
}

func (s *Session) resume() {
	if s.state != StatePaused {
		s.logger.Debugf("Ignoring resume in state %s", s.state)
		return
	}

	s.state = StateUploading
	s.estimator.Restart()
	s.logger.Infof("Upload resumed")

	s.fill()
	s.dispatch()
}

func (s *Session) cancel() {
	if s.state == StateInit || s.state.Terminal() {
		return
	}

	s.abort()
	s.epoch++
	s.reset()
	s.logger.Warnf("Upload canceled")
	s.bus.emit(Event{Type: EventProgress, Progress: s.estimator.Snapshot()})
	s.metrics.sessionFinished(resultCanceled)
	s.finish(ErrCanceled)
}

// interrupt fails the session after the run context ended.
func (s *Session) interrupt(err error) {
	phase := PhaseUpload
	switch s.state {
	case StateResolving:
		phase = PhaseResolve
	case StateNegotiating:
		phase = PhaseNegotiate
	case StateMerging:
		phase = PhaseMerge
	}
	s.abort()
	s.fail(&PhaseError{Phase: phase, Err: err})
}

// reset puts every entity back to its initial value.
func (s *Session) reset() {
	s.state = StateInit
	s.identifier = ""
	s.index.Reset()
	s.statuses = make([]chunk.Status, s.layout.TotalChunks())
	s.queue = nil
	s.loading = 0
	s.stalled = map[int]struct{}{}
	s.active = map[int]*task{}
	s.confirmed = 0
	s.estimator.Reset()
}

func (s *Session) complete(result string) {
	s.state = StateComplete
	s.metrics.sessionFinished(result)
	s.bus.emit(Event{Type: EventComplete, Progress: s.estimator.Snapshot()})
	s.finish(nil)
}

func (s *Session) fail(err error) {
	s.state = StateFailed
	s.queue = nil
	s.logger.Errorf("Upload failed: %s", err)
	s.metrics.sessionFinished(resultFailed)
	s.bus.emit(Event{Type: EventError, Err: err})
	s.finish(err)
}

func (s *Session) finish(err error) {
	s.finished = true
	s.result = err
}

func (s *Session) emitProgress(p Progress) {
	s.bus.emit(Event{Type: EventProgress, Progress: p})
}

func (s *Session) emitError(err error) {
	s.bus.emit(Event{Type: EventError, Err: err})
}

func (s *Session) now() time.Time {
	return s.estimator.now()
}

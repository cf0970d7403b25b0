package uploader

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled is returned by Run after Cancel reset the session.
	ErrCanceled = errors.New("upload canceled")
	// ErrAlreadyRunning is returned by Run while another Run of the same session is active.
	ErrAlreadyRunning = errors.New("upload session is already running")
	// ErrTerminated is returned by Run once the session completed or failed.
	ErrTerminated = errors.New("upload session already finished")
)

// Phase names a step of the session that fails the whole session when it fails.
type Phase string

const (
	PhaseResolve   Phase = "resolve identifier"
	PhaseNegotiate Phase = "negotiate resume"
	PhaseUpload    Phase = "upload"
	PhaseMerge     Phase = "merge"
)

// PhaseError is a fatal session error.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ReadError reports a chunk that could not be read. The session keeps running;
// the chunk is read again after the next pause and resume.
type ReadError struct {
	Index int
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read chunk %d: %s", e.Index, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// ChunkUploadError reports a chunk upload that failed. The session keeps running;
// the chunk is sent again after the next pause and resume.
type ChunkUploadError struct {
	Index int
	Err   error
}

func (e *ChunkUploadError) Error() string {
	return fmt.Sprintf("upload chunk %d: %s", e.Index, e.Err)
}

func (e *ChunkUploadError) Unwrap() error {
	return e.Err
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/bitrise-io/go-chunkupload/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkServer struct {
	mu          sync.Mutex
	needUpload  bool
	stored      []int
	chunks      map[int][]byte
	identifiers map[string]bool
	merges      int
	failUploads bool
}

func newChunkServer(t *testing.T) (*chunkServer, *httptest.Server) {
	s := &chunkServer{needUpload: true, chunks: map[int][]byte{}, identifiers: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		resp := network.VerifyResponse{NeedUpload: s.needUpload, UploadedChunks: s.stored}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		index, err := strconv.Atoi(r.URL.Query().Get("index"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failUploads {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("disk full"))
			return
		}
		s.chunks[index] = body
		s.identifiers[r.URL.Query().Get("identifier")] = true
	})
	mux.HandleFunc("/merge", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.merges++
		s.identifiers[r.URL.Query().Get("identifier")] = true
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *chunkServer) assembled(count int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []byte
	for i := 0; i < count; i++ {
		out = append(out, s.chunks[i]...)
	}
	return out
}

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "app.ipa")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func executeUpload(t *testing.T, srv *httptest.Server, args ...string) error {
	t.Helper()

	root := NewRootCommand(DefaultDependencies())
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"upload",
		"--upload-url", srv.URL + "/upload",
		"--verify-url", srv.URL + "/verify",
		"--merge-url", srv.URL + "/merge",
		"--chunk-size", "1KiB",
		"--max-memory", "4KiB",
		"--concurrency", "2",
	}, args...))
	return root.ExecuteContext(context.Background())
}

func TestUploadCommand(t *testing.T) {
	server, srv := newChunkServer(t)
	path, data := writeTestFile(t, 10_000)

	require.NoError(t, executeUpload(t, srv, path))

	assert.True(t, bytes.Equal(data, server.assembled(10)))
	assert.Equal(t, 1, server.merges)
	assert.Len(t, server.identifiers, 1)
}

func TestUploadCommand_ResumesStoredChunks(t *testing.T) {
	server, srv := newChunkServer(t)
	server.stored = []int{0, 1, 2, 3, 4, 5, 6}
	path, _ := writeTestFile(t, 10_000)

	require.NoError(t, executeUpload(t, srv, path))

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Len(t, server.chunks, 3)
	assert.Contains(t, server.chunks, 9)
	assert.Equal(t, 1, server.merges)
}

func TestUploadCommand_AlreadyUploaded(t *testing.T) {
	server, srv := newChunkServer(t)
	server.needUpload = false
	path, _ := writeTestFile(t, 10_000)

	require.NoError(t, executeUpload(t, srv, path))

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Empty(t, server.chunks)
	assert.Zero(t, server.merges)
}

func TestUploadCommand_ChunkFailure(t *testing.T) {
	server, srv := newChunkServer(t)
	server.failUploads = true
	path, _ := writeTestFile(t, 3_000)

	err := executeUpload(t, srv, path, "--test-chunks=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500: disk full")
	assert.Zero(t, server.merges)
}

func TestUploadCommand_Directory(t *testing.T) {
	_, srv := newChunkServer(t)

	err := executeUpload(t, srv, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestUploadCommand_MissingURL(t *testing.T) {
	path, _ := writeTestFile(t, 100)

	root := NewRootCommand(DefaultDependencies())
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"upload", path})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

package uploader

import (
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-chunkupload/identifier"
	"github.com/bitrise-io/go-chunkupload/network"
	"github.com/docker/go-units"
)

// Config holds the configuration of one upload session.
type Config struct {
	// Size is the size of the file in bytes.
	Size int64 `mapstructure:"size"`

	// ChunkSize is the size of every chunk except possibly the last one.
	// Default: 5 MiB
	ChunkSize int64 `mapstructure:"chunk_size"`

	// MaxConcurrency is the maximum number of parallel chunk uploads.
	// Default: 5
	MaxConcurrency int `mapstructure:"max_concurrency"`

	// MaxMemory bounds the bytes loaded ahead of the uploads. MaxMemory/ChunkSize
	// chunks may be queued or being read at any time.
	// Default: 100 MiB
	MaxMemory int64 `mapstructure:"max_memory"`

	// TempFilePath is the file Open reads chunks from.
	TempFilePath string `mapstructure:"temp_file_path"`

	UploadURL string `mapstructure:"upload_url"`
	VerifyURL string `mapstructure:"verify_url"`
	MergeURL  string `mapstructure:"merge_url"`
	FileName  string `mapstructure:"file_name"`

	// Query holds extra URL parameters of chunk uploads.
	Query map[string]string `mapstructure:"query"`
	// Header holds extra request headers.
	Header map[string]string `mapstructure:"header"`

	// TestChunks enables content hashing and resume negotiation. When false the
	// upload always starts from scratch under a generated identifier.
	// Default: true
	TestChunks bool `mapstructure:"test_chunks"`

	// GenerateIdentifier overrides the synthetic identifier when TestChunks is false.
	GenerateIdentifier identifier.Generator `mapstructure:"-"`

	// AppID is mixed into synthetic identifiers.
	AppID string `mapstructure:"app_id"`

	// MaxRetryPerChunk is the number of extra attempts for a failed chunk upload.
	// Default: 0, a failed chunk keeps its slot until the session is paused.
	MaxRetryPerChunk int `mapstructure:"max_retry_per_chunk"`

	// RetryWait is the wait between two attempts of the same chunk.
	// Default: 2 seconds
	RetryWait time.Duration `mapstructure:"retry_wait"`

	// MaxBytesPerSecond throttles chunk uploads. Zero means unlimited.
	MaxBytesPerSecond int64 `mapstructure:"max_bytes_per_second"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      5 * units.MiB,
		MaxConcurrency: 5,
		MaxMemory:      100 * units.MiB,
		TestChunks:     true,
		RetryWait:      2 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Size <= 0:
		return fmt.Errorf("invalid file size: %d", c.Size)
	case c.ChunkSize <= 0:
		return fmt.Errorf("invalid chunk size: %d", c.ChunkSize)
	case c.MaxConcurrency < 1:
		return fmt.Errorf("invalid max concurrency: %d", c.MaxConcurrency)
	case c.MaxMemory < c.ChunkSize:
		return fmt.Errorf("max memory (%s) must hold at least one chunk (%s)",
			units.BytesSize(float64(c.MaxMemory)), units.BytesSize(float64(c.ChunkSize)))
	case c.MaxRetryPerChunk < 0:
		return fmt.Errorf("invalid max retry per chunk: %d", c.MaxRetryPerChunk)
	case c.MaxBytesPerSecond < 0:
		return fmt.Errorf("invalid bandwidth limit: %d", c.MaxBytesPerSecond)
	case c.UploadURL == "":
		return errors.New("upload url is required")
	case c.MergeURL == "":
		return errors.New("merge url is required")
	case c.TestChunks && c.VerifyURL == "":
		return errors.New("verify url is required when chunk testing is enabled")
	}
	return nil
}

// MaxLoadChunks is the number of chunks that fit the memory budget.
func (c Config) MaxLoadChunks() int {
	if c.ChunkSize <= 0 {
		return 0
	}
	return int(c.MaxMemory / c.ChunkSize)
}

// ClientParams returns the transport settings of the configured endpoints.
func (c Config) ClientParams() network.ClientParams {
	return network.ClientParams{
		UploadURL:         c.UploadURL,
		VerifyURL:         c.VerifyURL,
		MergeURL:          c.MergeURL,
		Query:             c.Query,
		Header:            c.Header,
		MaxBytesPerSecond: c.MaxBytesPerSecond,
	}
}

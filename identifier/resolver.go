// Package identifier produces the string that names an upload session on the server.
package identifier

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bitrise-io/go-chunkupload/chunk"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/minio/sha256-simd"
)

// HashSliceSize is the read size used while hashing files that do not fit the memory
// budget. Larger reads mean fewer read calls; memory stays bounded by one slice.
const HashSliceSize = 10 * units.MiB

// Generator produces an identifier without looking at the file, e.g. an ID that was
// handed out by the server beforehand. It is injected at session construction.
type Generator func(ctx context.Context) (string, error)

// Config selects how the identifier is produced.
type Config struct {
	Layout chunk.Layout

	// ContentHash enables hashing the file contents. Identical content always
	// yields the identical identifier, which is what resume and dedup rely on.
	ContentHash bool

	// MaxMemory and MaxLoadChunks bound the bytes that may be retained from the
	// hashing pass for the upload that follows.
	MaxMemory     int64
	MaxLoadChunks int

	// Generator, when set, is used instead of the synthetic identifier if
	// ContentHash is false.
	Generator Generator

	// AppID is mixed into synthetic identifiers.
	AppID string
}

// Result is the outcome of a resolution.
type Result struct {
	Identifier string

	// Retained holds the chunks read while hashing, in ascending index order,
	// when the whole file fit the memory budget. They must not be read again.
	Retained []chunk.Loaded
}

// Resolver computes session identifiers.
type Resolver struct {
	config Config
	reader chunk.Reader
	logger log.Logger

	now    func() time.Time
	random func() string
}

// NewResolver creates a Resolver reading file contents through reader.
func NewResolver(config Config, reader chunk.Reader, logger log.Logger) *Resolver {
	return &Resolver{
		config: config,
		reader: reader,
		logger: logger,
		now:    time.Now,
		random: uuid.NewString,
	}
}

// Resolve returns the identifier for the session.
func (r *Resolver) Resolve(ctx context.Context) (Result, error) {
	if r.config.ContentHash {
		return r.contentHash(ctx)
	}

	if r.config.Generator != nil {
		id, err := r.config.Generator(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("generate identifier: %w", err)
		}
		if id == "" {
			return Result{}, fmt.Errorf("identifier generator returned an empty identifier")
		}
		return Result{Identifier: id}, nil
	}

	return Result{Identifier: r.synthetic()}, nil
}

// synthetic is unique per attempt; two uploads of the same file get different IDs.
func (r *Resolver) synthetic() string {
	seed := fmt.Sprintf("%s-%d-%s", r.config.AppID, r.now().UnixMilli(), r.random())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// CanRetain reports whether the chunks read while hashing can be kept for the upload.
func (c Config) CanRetain() bool {
	return c.Layout.Size < c.MaxMemory && c.Layout.TotalChunks() <= c.MaxLoadChunks
}

func (r *Resolver) contentHash(ctx context.Context) (Result, error) {
	layout := r.config.Layout
	retain := r.config.CanRetain()

	sliceSize := int64(HashSliceSize)
	if retain {
		sliceSize = layout.ChunkSize
	}
	slices := chunk.Layout{Size: layout.Size, ChunkSize: sliceSize}

	r.logger.Debugf("Hashing %s in %d slices of %s (retain chunks: %v)",
		units.BytesSize(float64(layout.Size)), slices.TotalChunks(), units.BytesSize(float64(sliceSize)), retain)

	var retained []chunk.Loaded
	if retain {
		retained = make([]chunk.Loaded, 0, slices.TotalChunks())
	}

	h := sha256.New()
	for i := 0; i < slices.TotalChunks(); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		length := slices.Length(i)
		data, err := r.reader.ReadChunk(ctx, slices.Offset(i), length)
		if err != nil {
			return Result{}, fmt.Errorf("read slice %d: %w", i, err)
		}
		if _, err := h.Write(data); err != nil {
			return Result{}, fmt.Errorf("hash slice %d: %w", i, err)
		}

		if retain {
			retained = append(retained, chunk.Loaded{Index: i, Data: data, Length: length})
		}
	}

	return Result{
		Identifier: hex.EncodeToString(h.Sum(nil)),
		Retained:   retained,
	}, nil
}

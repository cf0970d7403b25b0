// Package chunk provides the bookkeeping for splitting a file into fixed-size chunks:
// the byte range of every chunk, the set of chunks that still need to be sent and the
// readers that load chunk bytes from disk or memory.
package chunk

import "fmt"

// Layout describes how a file of Size bytes is split into chunks of ChunkSize bytes.
// Every chunk is ChunkSize long, except the last one which may be shorter.
type Layout struct {
	Size      int64
	ChunkSize int64
}

// NewLayout validates the sizes and returns the layout.
func NewLayout(size, chunkSize int64) (Layout, error) {
	if size <= 0 {
		return Layout{}, fmt.Errorf("file size must be positive, got %d", size)
	}
	if chunkSize <= 0 {
		return Layout{}, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return Layout{Size: size, ChunkSize: chunkSize}, nil
}

// TotalChunks returns ceil(Size / ChunkSize).
func (l Layout) TotalChunks() int {
	if l.ChunkSize <= 0 {
		return 0
	}
	return int((l.Size + l.ChunkSize - 1) / l.ChunkSize)
}

// Contains reports whether index addresses a chunk of this layout.
func (l Layout) Contains(index int) bool {
	return index >= 0 && index < l.TotalChunks()
}

// Offset returns the position of the first byte of the chunk.
func (l Layout) Offset(index int) int64 {
	return int64(index) * l.ChunkSize
}

// Length returns the number of bytes in the chunk at index.
func (l Layout) Length(index int) int64 {
	remaining := l.Size - l.Offset(index)
	if remaining < l.ChunkSize {
		return remaining
	}
	return l.ChunkSize
}

// LastChunkSize returns the length of the final, possibly shorter, chunk.
func (l Layout) LastChunkSize() int64 {
	return l.Length(l.TotalChunks() - 1)
}

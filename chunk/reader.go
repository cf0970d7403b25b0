package chunk

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Reader loads a byte range of the source file.
// Implementations must be safe for concurrent reads of different ranges.
type Reader interface {
	ReadChunk(ctx context.Context, offset, length int64) ([]byte, error)
}

// Loaded is a chunk whose bytes are held in memory, waiting to be uploaded.
type Loaded struct {
	Index  int
	Data   []byte
	Length int64
}

// FileReader reads chunks from a file on disk.
// Parallel reads are safe as every read goes through ReadAt.
type FileReader struct {
	file *os.File
	size int64
}

// NewFileReader opens the file at path for chunk reads.
func NewFileReader(path string) (*FileReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileReader{
		file: file,
		size: info.Size(),
	}, nil
}

// Size returns the size of the file when it was opened.
func (r *FileReader) Size() int64 {
	return r.size
}

// ReadChunk returns exactly length bytes starting at offset.
func (r *FileReader) ReadChunk(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset+length > r.size {
		return nil, fmt.Errorf("range [%d, %d) is outside of the file (size %d)", offset, offset+length, r.size)
	}

	data := make([]byte, length)
	n, err := io.ReadFull(io.NewSectionReader(r.file, offset, length), data)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at position %d (got %d): %w", length, offset, n, err)
	}

	return data, nil
}

// Close closes the underlying file.
func (r *FileReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ByteSliceReader serves chunks from a buffer that is already in memory.
type ByteSliceReader struct {
	data []byte
}

// NewByteSliceReader creates a Reader over data. The slice is not copied.
func NewByteSliceReader(data []byte) *ByteSliceReader {
	return &ByteSliceReader{data: data}
}

// ReadChunk returns a copy of data[offset:offset+length].
func (r *ByteSliceReader) ReadChunk(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset+length > int64(len(r.data)) {
		return nil, fmt.Errorf("range [%d, %d) is out of bounds [0, %d)", offset, offset+length, len(r.data))
	}

	out := make([]byte, length)
	copy(out, r.data[offset:offset+length])
	return out, nil
}

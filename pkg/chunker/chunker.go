// Package chunker computes the fixed-size chunk layout of a file. It is
// pure range arithmetic; reading the bytes is the caller's job.
package chunker

import (
	"errors"
	"fmt"
)

var (
	ErrChunkSize = errors.New("chunk size must be a positive number of bytes")
	ErrFileSize  = errors.New("file size cannot be negative")
)

// Plan describes how one file of FileSize bytes splits into chunks of at
// most ChunkSize bytes. The final chunk may be shorter.
type Plan struct {
	FileSize  int64
	ChunkSize int64
}

func New(fileSize int64, chunkSize int64) (Plan, error) {
	if chunkSize <= 0 {
		return Plan{}, fmt.Errorf("%w; got %d", ErrChunkSize, chunkSize)
	}
	if fileSize < 0 {
		return Plan{}, fmt.Errorf("%w; got %d", ErrFileSize, fileSize)
	}
	return Plan{FileSize: fileSize, ChunkSize: chunkSize}, nil
}

// Count returns the total number of chunks. An empty file has none.
func (p Plan) Count() int64 {
	if p.FileSize == 0 {
		return 0
	}
	return (p.FileSize + p.ChunkSize - 1) / p.ChunkSize
}

// Range returns the half-open byte range [start, end) of chunk i. Indexes
// at or past Count() collapse to the empty range at the end of the file.
func (p Plan) Range(i int64) (start int64, end int64) {
	start = i * p.ChunkSize
	if start > p.FileSize {
		start = p.FileSize
	}
	end = start + p.ChunkSize
	if end > p.FileSize {
		end = p.FileSize
	}
	return start, end
}

// Size returns the byte length of chunk i.
func (p Plan) Size(i int64) int64 {
	start, end := p.Range(i)
	return end - start
}

package uploader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source is the byte source of one upload. Chunks are read through ReaderAt
// so retried attempts can re-read their range without rewinding shared state.
// The registry never closes a source; its lifetime belongs to the caller,
// who must keep it open across pause and resume.
type Source interface {
	io.ReaderAt
	Size() int64
	Name() string
}

// FileSource reads an upload from the filesystem.
type FileSource struct {
	file *os.File
	size int64
	name string
}

func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &FileSource{
		file: f,
		size: info.Size(),
		name: filepath.Base(path),
	}, nil
}

func (fs *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

func (fs *FileSource) Size() int64 {
	return fs.size
}

func (fs *FileSource) Name() string {
	return fs.name
}

func (fs *FileSource) Close() error {
	return fs.file.Close()
}

// BytesSource serves an upload from memory.
type BytesSource struct {
	name   string
	reader *bytes.Reader
}

func NewBytesSource(name string, b []byte) *BytesSource {
	return &BytesSource{
		name:   name,
		reader: bytes.NewReader(b),
	}
}

func (bs *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	return bs.reader.ReadAt(p, off)
}

func (bs *BytesSource) Size() int64 {
	return bs.reader.Size()
}

func (bs *BytesSource) Name() string {
	return bs.name
}

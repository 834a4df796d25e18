package input

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
)

// StdinPath is the path that selects standard input
const StdinPath = "-"

// FileSource reads a log file from disk. Rotated logs compressed with gzip
// (.gz) or the snappy framing format (.sz) are decompressed transparently.
type FileSource struct {
	*BaseSource
	path  string
	stdin io.Reader
}

// NewFileSource creates a source for path, or for standard input when path
// is "-"
func NewFileSource(path string) *FileSource {
	name := path
	if path == StdinPath {
		name = "stdin"
	}
	return &FileSource{
		BaseSource: NewBaseSource(name, "file"),
		path:       path,
		stdin:      os.Stdin,
	}
}

// Path returns the configured path
func (f *FileSource) Path() string {
	return f.path
}

// Open opens the file and wraps it in a decompressor when the extension asks
// for one
func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.path == StdinPath {
		return io.NopCloser(f.stdin), nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.path, err)
	}

	switch {
	case strings.HasSuffix(f.path, ".gz"):
		zr, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", f.path, err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, file}}, nil
	case strings.HasSuffix(f.path, ".sz"):
		return &stackedReader{Reader: snappy.NewReader(file), closers: []io.Closer{file}}, nil
	default:
		return file, nil
	}
}

// stackedReader reads from a decoder and closes every layer beneath it
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

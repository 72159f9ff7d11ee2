package file

import (
	"io"
	"os"
	"reflect"
	"sync"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// Stream is the pending byte stream of a file that has not been persisted
// yet. Copies of a file share one *Stream; the first write that calls
// Release owns the underlying reader and is responsible for closing it.
type Stream struct {
	mu       sync.Mutex
	r        io.Reader
	released bool
}

// NewStream validates r and wraps it. It fails with ErrInvalidStream for a
// nil reader (including a typed nil) and for an *os.File that is closed, is
// a directory or was opened write-only.
func NewStream(r io.Reader) (*Stream, error) {
	if isNil(r) {
		return nil, fserr.ErrInvalidStream
	}
	if fh, ok := r.(*os.File); ok {
		info, err := fh.Stat()
		if err != nil {
			return nil, fserr.ErrInvalidStream.WithCause(err)
		}
		if info.IsDir() {
			return nil, fserr.ErrInvalidStream.WithMessage("%s is a directory", fh.Name())
		}
		if writeOnly(fh) {
			return nil, fserr.ErrInvalidStream.WithMessage("%s is not open for reading", fh.Name())
		}
	}
	return &Stream{r: r}, nil
}

func isNil(r io.Reader) bool {
	if r == nil {
		return true
	}
	rv := reflect.ValueOf(r)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Release hands the underlying reader to the caller. It can succeed only
// once; later calls fail with ErrInvalidStream.
func (s *Stream) Release() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, fserr.ErrInvalidStream.WithMessage("stream was already consumed")
	}
	s.released = true
	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}

// Released reports whether the stream was handed out or closed.
func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Close closes the underlying reader if it was never released.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

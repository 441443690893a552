package store

import (
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"hh_router/pkg/hherr"
)

// source is the read-only backing of an open graph file.
type source interface {
	io.ReaderAt
	// slice returns n bytes at off. Mapped sources return a view that is
	// valid until Close.
	slice(off int64, n int) ([]byte, error)
	size() int64
	Close() error
}

type fileSource struct {
	f *os.File
	n int64
}

func openFile(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}
	return &fileSource{f: f, n: info.Size()}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

func (s *fileSource) slice(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *fileSource) size() int64 { return s.n }

func (s *fileSource) Close() error { return s.f.Close() }

type mmapSource struct {
	f    *os.File
	data mmap.MMap
}

func openMmap(path string) (*mmapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &mmapSource{f: f, data: m}, nil
}

func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *mmapSource) slice(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > int64(len(s.data)) {
		return nil, io.ErrUnexpectedEOF
	}
	return s.data[off : off+int64(n) : off+int64(n)], nil
}

func (s *mmapSource) size() int64 { return int64(len(s.data)) }

func (s *mmapSource) Close() error {
	if s.data != nil {
		if err := s.data.Unmap(); err != nil {
			return err
		}
		s.data = nil
	}
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		return err
	}
	return nil
}

// guardedSource records the first read failure of the wrapped source and
// reports it, tagged with hherr.ErrIO, from then on.
type guardedSource struct {
	source
	err error
}

func (g *guardedSource) fail(err error) error {
	if g.err == nil {
		g.err = fmt.Errorf("%w: %w", hherr.ErrIO, err)
	}
	return g.err
}

func (g *guardedSource) ReadAt(p []byte, off int64) (int, error) {
	if g.err != nil {
		return 0, g.err
	}
	n, err := g.source.ReadAt(p, off)
	if err != nil && !(err == io.EOF && n == len(p)) {
		return n, g.fail(err)
	}
	return n, nil
}

func (g *guardedSource) slice(off int64, n int) ([]byte, error) {
	if g.err != nil {
		return nil, g.err
	}
	b, err := g.source.slice(off, n)
	if err != nil {
		return nil, g.fail(err)
	}
	return b, nil
}

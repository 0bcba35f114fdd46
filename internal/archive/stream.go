package archive

import (
	"fmt"
	"os"
	"sync"
)

// archiveStream is one open archive file. mu serializes every positional read
// and write against the file, including the cursors of its data blocks.
type archiveStream struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	readOnly bool
}

func openStream(path string, readOnly bool) (*archiveStream, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	return &archiveStream{f: f, path: path, readOnly: readOnly}, nil
}

func createStream(path string, size int64) (*archiveStream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to size archive file: %w", err)
	}
	return &archiveStream{f: f, path: path}, nil
}

// The methods below expect s.mu to be held.

func (s *archiveStream) readAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *archiveStream) writeAt(p []byte, off int64) error {
	if s.readOnly {
		return ErrReadOnly
	}
	_, err := s.f.WriteAt(p, off)
	return err
}

func (s *archiveStream) sync() error {
	if s.readOnly {
		return nil
	}
	return s.f.Sync()
}

func (s *archiveStream) truncate(size int64) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return s.f.Truncate(size)
}

func (s *archiveStream) size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close syncs and closes the file
func (s *archiveStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	syncErr := s.sync()
	err := s.f.Close()
	s.f = nil
	if syncErr != nil {
		return syncErr
	}
	return err
}

func (s *archiveStream) closed() bool {
	return s.f == nil
}

// sameFile reports whether path still names the open file
func (s *archiveStream) sameFile(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return false
	}
	open, err := s.f.Stat()
	if err != nil {
		return false
	}
	named, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(open, named)
}

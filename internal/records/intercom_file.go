package records

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/soltixdb/historian/internal/models"
)

// IntercomFile stores fixed-length intercom records in a plain file so that
// a writer process and any number of reader processes can share them.
// Slot n lives at offset (n-1)*IntercomRecordLength.
type IntercomFile struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	readOnly bool
}

// OpenIntercomFile opens the intercom file, creating it unless readOnly is set.
func OpenIntercomFile(path string, readOnly bool) (*IntercomFile, error) {
	var (
		f   *os.File
		err error
	)
	if readOnly {
		f, err = os.Open(path)
	} else {
		if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create intercom directory: %w", err)
		}
		f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open intercom file %s: %w", path, err)
	}
	return &IntercomFile{file: f, path: path, readOnly: readOnly}, nil
}

// Path returns the file location
func (f *IntercomFile) Path() string {
	return f.path
}

func (f *IntercomFile) ReadIntercom(slot int) (models.IntercomRecord, error) {
	if slot < 1 {
		return models.IntercomRecord{}, fmt.Errorf("invalid intercom slot %d", slot)
	}

	buf := make([]byte, models.IntercomRecordLength)
	f.mu.Lock()
	n, err := f.file.ReadAt(buf, int64(slot-1)*models.IntercomRecordLength)
	f.mu.Unlock()

	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			return models.IntercomRecord{}, nil
		}
		return models.IntercomRecord{}, fmt.Errorf("failed to read intercom slot %d: %w", slot, err)
	}

	var rec models.IntercomRecord
	if err := rec.UnmarshalBinary(buf); err != nil {
		return models.IntercomRecord{}, err
	}
	return rec, nil
}

func (f *IntercomFile) WriteIntercom(slot int, rec models.IntercomRecord) error {
	if f.readOnly {
		return fmt.Errorf("intercom file %s is read-only", f.path)
	}
	if slot < 1 {
		return fmt.Errorf("invalid intercom slot %d", slot)
	}

	buf, err := rec.MarshalBinary()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.WriteAt(buf, int64(slot-1)*models.IntercomRecordLength); err != nil {
		return fmt.Errorf("failed to write intercom slot %d: %w", slot, err)
	}
	return f.file.Sync()
}

// Close closes the file
func (f *IntercomFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

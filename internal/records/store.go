// Package records holds the keyed record stores the archive engine consumes:
// per-signal compression state, signal metadata and the shared intercom
// record used to signal rollovers between processes.
package records

import (
	"errors"

	"github.com/soltixdb/historian/internal/models"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// RolloverSlot is the intercom slot carrying the rollover signal.
const RolloverSlot = 1

// StateStore persists the compression state of each signal.
type StateStore interface {
	ReadState(historianID int32) (models.StateRecord, error)
	WriteState(historianID int32, rec models.StateRecord) error
	StateIDs() ([]int32, error)
}

// MetadataStore persists signal configuration.
type MetadataStore interface {
	ReadMetadata(historianID int32) (models.MetadataRecord, error)
	WriteMetadata(historianID int32, rec models.MetadataRecord) error
}

// IntercomStore reads and writes whole intercom records. Reading a slot that
// was never written returns the zero record.
type IntercomStore interface {
	ReadIntercom(slot int) (models.IntercomRecord, error)
	WriteIntercom(slot int, rec models.IntercomRecord) error
}

package records

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
)

var (
	statePrefix    = []byte("state/")
	metadataPrefix = []byte("meta/")
)

// BadgerStore persists state and metadata records in BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger *logging.Logger
}

// BadgerConfig holds BadgerDB configuration
type BadgerConfig struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// SyncWrites makes every state update durable before returning
	SyncWrites bool
}

// OpenBadgerStore opens (or creates) a badger record store
func OpenBadgerStore(cfg BadgerConfig, logger *logging.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Records are small and rewritten constantly; keep one version and a
	// modest memory footprint.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumMemtables(3).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &BadgerStore{db: db, logger: logger}, nil
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func recordKey(prefix []byte, historianID int32) []byte {
	key := make([]byte, len(prefix)+4)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], uint32(historianID))
	return key
}

func (s *BadgerStore) get(key []byte, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (s *BadgerStore) set(key []byte, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) ReadState(historianID int32) (models.StateRecord, error) {
	var rec models.StateRecord
	if err := s.get(recordKey(statePrefix, historianID), &rec); err != nil {
		return models.StateRecord{}, fmt.Errorf("state %d: %w", historianID, err)
	}
	return rec, nil
}

func (s *BadgerStore) WriteState(historianID int32, rec models.StateRecord) error {
	if err := s.set(recordKey(statePrefix, historianID), rec); err != nil {
		return fmt.Errorf("state %d: %w", historianID, err)
	}
	return nil
}

// StateIDs lists stored state ids; keys are big-endian so iteration order
// is ascending for positive ids.
func (s *BadgerStore) StateIDs() ([]int32, error) {
	var ids []int32
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = statePrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(statePrefix); it.Next() {
			key := it.Item().Key()
			ids = append(ids, int32(binary.BigEndian.Uint32(key[len(statePrefix):])))
		}
		return nil
	})
	return ids, err
}

func (s *BadgerStore) ReadMetadata(historianID int32) (models.MetadataRecord, error) {
	var rec models.MetadataRecord
	if err := s.get(recordKey(metadataPrefix, historianID), &rec); err != nil {
		return models.MetadataRecord{}, fmt.Errorf("metadata %d: %w", historianID, err)
	}
	return rec, nil
}

func (s *BadgerStore) WriteMetadata(historianID int32, rec models.MetadataRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.set(recordKey(metadataPrefix, historianID), rec); err != nil {
		return fmt.Errorf("metadata %d: %w", historianID, err)
	}
	return nil
}

// badgerLogger routes badger's printf-style logging into the zerolog wrapper.
type badgerLogger struct {
	l *logging.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(badgerMessage(format, args))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(badgerMessage(format, args))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(badgerMessage(format, args))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(badgerMessage(format, args))
}

func badgerMessage(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

package main

import (
	"fmt"

	"github.com/soltixdb/historian/internal/config"
	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/records"
)

type recordStores struct {
	states   records.StateStore
	metadata records.MetadataStore
	intercom records.IntercomStore
	closers  []func() error
}

// openStores opens the configured state and metadata backend and the
// intercom file shared with reader processes
func openStores(cfg *config.Config, logger *logging.Logger) (*recordStores, error) {
	s := &recordStores{}

	switch cfg.Records.Backend {
	case "badger":
		db, err := records.OpenBadgerStore(records.BadgerConfig{Path: cfg.Records.Dir}, logger)
		if err != nil {
			return nil, err
		}
		s.states, s.metadata = db, db
		s.closers = append(s.closers, db.Close)
		logger.Info("Opened badger record store", "dir", cfg.Records.Dir)
	case "memory":
		mem := records.NewMemoryStore()
		s.states, s.metadata = mem, mem
		logger.Warn("Using in-memory record store; compression state is lost on exit")
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Records.Backend)
	}

	if path := cfg.Records.IntercomFile; path != "" {
		f, err := records.OpenIntercomFile(path, false)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.intercom = f
		s.closers = append(s.closers, f.Close)
	} else {
		s.intercom = records.NewMemoryStore()
	}
	return s, nil
}

func (s *recordStores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

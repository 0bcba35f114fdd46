package archive

import (
	"context"
	"sync"
	"time"

	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/records"
)

// ArchiveReader reads an archive that another process writes. It opens the
// active file read-only and watches the intercom record so scans pause while
// the writer rolls the file over and continue in the rolled file afterwards.
type ArchiveReader struct {
	af       *ArchiveFile
	intercom records.IntercomStore
	logger   *logging.Logger

	watchMu    sync.Mutex
	inRollover bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewArchiveReader creates a reader for the active file in opts
func NewArchiveReader(opts Options, intercom records.IntercomStore, observer Observer, logger *logging.Logger) (*ArchiveReader, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts.AccessMode = ReadOnly

	af, err := New(opts, Dependencies{Intercom: intercom, Observer: observer, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &ArchiveReader{
		af:       af,
		intercom: intercom,
		logger:   logger.With("component", "archive_reader"),
	}, nil
}

// Open opens the active file and starts watching for rollovers
func (r *ArchiveReader) Open() error {
	if err := r.af.Open(); err != nil {
		return err
	}
	if r.intercom == nil || r.af.fileType != FileTypeActive {
		return nil
	}

	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.watch()
	return nil
}

// Close stops the watcher and closes the file
func (r *ArchiveReader) Close() error {
	if r.stopCh != nil {
		close(r.stopCh)
		r.wg.Wait()
		r.stopCh = nil
	}
	r.af.gate.Release()
	return r.af.Close()
}

// File returns the underlying read-only archive file
func (r *ArchiveReader) File() *ArchiveFile { return r.af }

// ReadData starts a query
func (r *ArchiveReader) ReadData(ctx context.Context, q Query) (*DataReader, error) {
	return r.af.ReadData(ctx, q)
}

func (r *ArchiveReader) watch() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.af.opts.RolloverWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.checkRollover()
		}
	}
}

// checkRollover polls the intercom record. Polls that overlap a running one
// are skipped.
func (r *ArchiveReader) checkRollover() {
	if !r.watchMu.TryLock() {
		return
	}
	defer r.watchMu.Unlock()

	ic, err := r.intercom.ReadIntercom(records.RolloverSlot)
	if err != nil {
		r.logger.Warn("Failed to read intercom record", "error", err)
		return
	}

	switch {
	case ic.RolloverInProgress:
		if !r.inRollover {
			r.beginRollover()
		}
	case r.inRollover:
		r.completeRollover()
	case r.replaced():
		// The writer rolled over between two polls
		r.beginRollover()
		r.completeRollover()
	}
}

func (r *ArchiveReader) replaced() bool {
	fat := r.af.table()
	return fat != nil && !fat.stream.sameFile(r.af.opts.FileName)
}

// beginRollover stops new scans of the active file and closes it
func (r *ArchiveReader) beginRollover() {
	r.inRollover = true
	r.af.gate.Shut()
	r.af.rollingOver.Store(true)
	r.af.events.notify(Event{Kind: EventRolloverStart, FileName: r.af.opts.FileName})

	if !r.af.gate.WaitForReaders(r.af.opts.ReaderDrainTimeout) {
		r.logger.Warn("Readers still active after drain timeout", "readers", r.af.gate.Readers())
	}

	if fat := r.af.table(); fat != nil {
		if err := fat.Close(); err != nil {
			r.logger.Warn("Failed to close active file", "error", err)
		}
	}
}

// completeRollover reopens the new active file and registers the file the
// writer rolled. On failure the gate stays shut and the next poll retries.
func (r *ArchiveReader) completeRollover() {
	fat, err := loadTable(r.af.opts.FileName, true, false)
	if err != nil {
		r.logger.Warn("Failed to reopen active file after rollover", "error", err)
		return
	}

	rolled, found := r.discoverRolledFile()

	r.af.mu.Lock()
	r.af.fat = fat
	r.af.mu.Unlock()

	gen := r.af.generation.Load()
	if found {
		r.af.rolledMu.Lock()
		r.af.rolled[gen] = rolled
		r.af.rolledMu.Unlock()
	}
	r.af.generation.Add(1)

	r.inRollover = false
	r.af.rollingOver.Store(false)
	r.af.gate.Release()

	r.af.events.notify(Event{Kind: EventRolloverComplete, FileName: rolled.Path})
}

// discoverRolledFile adds historic files that appeared since the list was
// built and returns the newest of them
func (r *ArchiveReader) discoverRolledFile() (HistoricFileInfo, bool) {
	_ = r.af.waitHistoricList(context.Background())

	paths, err := r.af.historicFilePaths()
	if err != nil {
		r.logger.Warn("Failed to list historic files", "error", err)
		return HistoricFileInfo{}, false
	}

	known := make(map[string]bool)
	r.af.historicMu.RLock()
	for _, h := range r.af.historic {
		known[h.Path] = true
	}
	r.af.historicMu.RUnlock()

	var newest HistoricFileInfo
	found := false
	for _, path := range paths {
		if known[path] {
			continue
		}
		info, err := readHistoricFileInfo(path)
		if err != nil {
			r.logger.Warn("Failed to read historic file", "path", path, "error", err)
			continue
		}
		r.af.addHistoricFile(info)
		if !found || info.Start > newest.Start {
			newest, found = info, true
		}
	}
	return newest, found
}

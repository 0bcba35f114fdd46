// Package archive implements the historian archive file engine: fixed-size
// data blocks tracked by an allocation table, the swinging-door archival
// pipelines, live rollover of the active file and time-ordered scans across
// active and historic files.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

const (
	// rolloverClearAttempts bounds how long a read-only open of the active
	// file waits for a writer's rollover to finish
	rolloverClearAttempts = 30
	rolloverClearInterval = time.Second
)

// Dependencies are the collaborators of an ArchiveFile
type Dependencies struct {
	States   records.StateStore
	Metadata records.MetadataStore
	Intercom records.IntercomStore
	Observer Observer
	Logger   *logging.Logger
}

// HistoricFileInfo describes a rolled-over archive file
type HistoricFileInfo struct {
	Path  string
	Start models.TimeTag
	End   models.TimeTag
}

func (h HistoricFileInfo) overlaps(start, end models.TimeTag) bool {
	return h.Start <= end && h.End >= start
}

func (h HistoricFileInfo) contains(t models.TimeTag) bool {
	return h.Start <= t && t <= h.End
}

// Statistics summarizes an open archive file
type Statistics struct {
	FileName         string
	FileType         FileType
	FileStart        models.TimeTag
	FileEnd          models.TimeTag
	BlockSizeKB      int
	BlockCount       int32
	BlocksUsed       int32
	Usage            float64 // percent of blocks used
	PointsReceived   int64
	PointsArchived   int64
	CompressionRatio float64 // received / archived
	HistoricFiles    int
	QueuedCurrent    int
	QueuedHistoric   int
}

// ArchiveFile owns one physical archive file. An active file opened
// read-write runs the ingestion pipelines and rolls itself over when full.
type ArchiveFile struct {
	opts     Options
	states   records.StateStore
	metadata records.MetadataStore
	intercom records.IntercomStore
	logger   *logging.Logger
	events   *notifier

	mu       sync.RWMutex // guards fat, swapped by rollover
	fat      *AllocationTable
	fileType FileType

	// archiveMu serializes the current-data pipeline with explicit rollovers
	archiveMu     sync.Mutex
	gate          *rolloverGate
	rollingOver   atomic.Bool
	generation    atomic.Uint64
	pendingAlarms map[int32]models.TimeTag

	rolledMu sync.Mutex
	rolled   map[uint64]HistoricFileInfo // generation -> file produced by that rollover

	historicMu    sync.RWMutex
	historic      []HistoricFileInfo // sorted by start
	historicReady chan struct{}

	currentQueue    *processQueue[models.DataPoint]
	historicQueue   *processQueue[models.DataPoint]
	oosQueue        *processQueue[models.DataPoint]
	historicWriteMu sync.Mutex

	preparing atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates an ArchiveFile; call Open before use
func New(opts Options, deps Dependencies) (*ArchiveFile, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive options: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	opts = opts.withDefaults()
	logger := deps.Logger.With("component", "archive", "file", filepath.Base(opts.FileName))

	af := &ArchiveFile{
		opts:          opts,
		states:        deps.States,
		metadata:      deps.Metadata,
		intercom:      deps.Intercom,
		logger:        logger,
		events:        newNotifier(deps.Observer, logger),
		fileType:      FileTypeOf(opts.FileName),
		gate:          newRolloverGate(),
		pendingAlarms: make(map[int32]models.TimeTag),
		rolled:        make(map[uint64]HistoricFileInfo),
	}

	if af.fileType == FileTypeActive && opts.AccessMode == ReadWrite {
		if af.states == nil || af.metadata == nil || af.intercom == nil {
			return nil, fmt.Errorf("active archive file needs state, metadata and intercom stores")
		}
	}
	return af, nil
}

// Open opens the file, creating it when it does not exist and the file is
// opened read-write
func (af *ArchiveFile) Open() error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.fat != nil {
		return nil
	}

	path := af.opts.FileName
	readOnly := af.opts.AccessMode == ReadOnly

	var (
		fat *AllocationTable
		err error
	)
	if fileExists(path) {
		if readOnly && af.fileType == FileTypeActive {
			af.waitForRolloverClear()
		}
		fat, err = loadTable(path, readOnly, af.opts.CacheWrites)
	} else {
		if readOnly {
			return fmt.Errorf("%w: %s does not exist", ErrFileNotOpen, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
		fat, err = createTable(path, af.opts.DataBlockSizeKB, af.opts.blockCount(), af.opts.CacheWrites)
	}
	if err != nil {
		return err
	}

	af.fat = fat
	af.stopCh = make(chan struct{})

	af.logger.Info("Archive file opened",
		"path", path,
		"type", af.fileType.String(),
		"read_only", readOnly,
		"block_size_kb", fat.BlockSizeKB(),
		"block_count", fat.BlockCount(),
		"blocks_used", fat.BlocksUsed())

	if af.fileType != FileTypeActive {
		return nil
	}

	af.historicReady = make(chan struct{})
	af.wg.Add(1)
	go af.buildHistoricFileList()

	if readOnly {
		return nil
	}

	batch := af.opts.QueueBatchSize
	af.currentQueue = newProcessQueue("current", batch, af.processCurrentData, af.logger)
	af.historicQueue = newProcessQueue("historic", batch, af.processHistoricData, af.logger)
	af.oosQueue = newProcessQueue("out_of_sequence", batch, af.processOutOfSequenceData, af.logger)
	af.currentQueue.Start()
	af.historicQueue.Start()
	af.oosQueue.Start()

	if af.opts.ConserveMemory {
		af.wg.Add(1)
		go af.conserveMemory()
	}
	return nil
}

// waitForRolloverClear waits while another process is rolling the file over
func (af *ArchiveFile) waitForRolloverClear() {
	if af.intercom == nil {
		return
	}
	for i := 0; i < rolloverClearAttempts; i++ {
		ic, err := af.intercom.ReadIntercom(records.RolloverSlot)
		if err != nil || !ic.RolloverInProgress {
			return
		}
		time.Sleep(rolloverClearInterval)
	}
	af.logger.Warn("Opening archive file while a rollover is still signalled")
}

// Close drains the pipelines, saves the table and closes the file
func (af *ArchiveFile) Close() error {
	if !af.IsOpen() {
		return nil
	}

	if af.currentQueue != nil {
		af.currentQueue.Stop()
		af.historicQueue.Stop()
		af.oosQueue.Stop()
	}
	close(af.stopCh)
	af.wg.Wait()

	af.mu.Lock()
	defer af.mu.Unlock()

	if af.fat == nil {
		return nil
	}
	var saveErr error
	if af.opts.AccessMode == ReadWrite {
		saveErr = af.fat.Save()
	}
	err := af.fat.Close()
	af.fat = nil
	af.currentQueue, af.historicQueue, af.oosQueue = nil, nil, nil

	af.logger.Info("Archive file closed")
	if saveErr != nil {
		return saveErr
	}
	return err
}

// IsOpen reports whether the file is open
func (af *ArchiveFile) IsOpen() bool {
	return af.table() != nil
}

func (af *ArchiveFile) table() *AllocationTable {
	af.mu.RLock()
	defer af.mu.RUnlock()
	return af.fat
}

func (af *ArchiveFile) FileName() string   { return af.opts.FileName }
func (af *ArchiveFile) FileType() FileType { return af.fileType }

// Table returns the allocation table of the open file
func (af *ArchiveFile) Table() *AllocationTable { return af.table() }

// WriteData queues points for archival. Every point goes through the current
// pipeline; points older than the file reach the historic pipeline only once
// compression selects them. Per-point problems are reported as events.
func (af *ArchiveFile) WriteData(points ...models.DataPoint) error {
	fat := af.table()
	if fat == nil {
		return ErrFileNotOpen
	}
	if af.fileType != FileTypeActive {
		return ErrWrongFileType
	}
	if af.opts.AccessMode == ReadOnly {
		return ErrReadOnly
	}

	valid := make([]models.DataPoint, 0, len(points))
	for _, p := range points {
		if !p.Time.IsValid() {
			af.events.pointEvent(EventDataWriteException, p, ErrBadTimestamp)
			continue
		}
		valid = append(valid, p)
	}

	if len(valid) > 0 && !af.currentQueue.Add(valid...) {
		return ErrFileNotOpen
	}
	return nil
}

// Flush waits for every queued point to be processed and saves the table
func (af *ArchiveFile) Flush() error {
	if !af.IsOpen() {
		return ErrFileNotOpen
	}
	if af.currentQueue != nil {
		af.currentQueue.WaitIdle()
		af.historicQueue.WaitIdle()
		af.oosQueue.WaitIdle()
	}
	return af.Save()
}

// Save persists the allocation table
func (af *ArchiveFile) Save() error {
	fat := af.table()
	if fat == nil {
		return ErrFileNotOpen
	}
	if af.opts.AccessMode == ReadOnly {
		return ErrReadOnly
	}
	return fat.Save()
}

// Statistics returns a snapshot of the file's counters
func (af *ArchiveFile) Statistics() (Statistics, error) {
	fat := af.table()
	if fat == nil {
		return Statistics{}, ErrFileNotOpen
	}

	st := Statistics{
		FileName:       af.opts.FileName,
		FileType:       af.fileType,
		FileStart:      fat.FileStart(),
		FileEnd:        fat.FileEnd(),
		BlockSizeKB:    fat.BlockSizeKB(),
		BlockCount:     fat.BlockCount(),
		BlocksUsed:     fat.BlocksUsed(),
		Usage:          fat.Usage(),
		PointsReceived: fat.PointsReceived(),
		PointsArchived: fat.PointsArchived(),
	}
	if st.PointsArchived > 0 {
		st.CompressionRatio = float64(st.PointsReceived) / float64(st.PointsArchived)
	}
	af.historicMu.RLock()
	st.HistoricFiles = len(af.historic)
	af.historicMu.RUnlock()
	if af.currentQueue != nil {
		st.QueuedCurrent = af.currentQueue.Len()
		st.QueuedHistoric = af.historicQueue.Len()
	}
	return st, nil
}

// conserveMemory periodically drops idle block handles
func (af *ArchiveFile) conserveMemory() {
	defer af.wg.Done()

	ticker := time.NewTicker(af.opts.MemorySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-af.stopCh:
			return
		case <-ticker.C:
			if fat := af.table(); fat != nil {
				if n := fat.ReleaseIdleBlocks(af.opts.DataBlockIdleTimeout); n > 0 {
					af.logger.Debug("Released idle data blocks", "count", n)
				}
			}
		}
	}
}

// readState returns the state of historianID, creating it on first use
func (af *ArchiveFile) readState(historianID int32) (models.StateRecord, error) {
	st, err := af.states.ReadState(historianID)
	if err != nil {
		if isNotFound(err) {
			return models.NewStateRecord(historianID), nil
		}
		return st, err
	}
	return st, nil
}

func (af *ArchiveFile) waitHistoricList(ctx context.Context) error {
	if af.historicReady == nil {
		return nil
	}
	select {
	case <-af.historicReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

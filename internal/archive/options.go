package archive

import (
	"fmt"
	"time"

	"github.com/soltixdb/historian/internal/compression"
	"github.com/soltixdb/historian/internal/config"
	"github.com/soltixdb/historian/internal/models"
)

// FileType is the role of an archive file, derived from its name.
type FileType int

const (
	FileTypeActive FileType = iota
	FileTypeStandby
	FileTypeHistoric
)

func (t FileType) String() string {
	switch t {
	case FileTypeActive:
		return "active"
	case FileTypeStandby:
		return "standby"
	case FileTypeHistoric:
		return "historic"
	}
	return fmt.Sprintf("FileType(%d)", int(t))
}

// AccessMode selects how the archive file is opened.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
)

// Options configures an ArchiveFile
type Options struct {
	FileName                     string
	AccessMode                   AccessMode
	FileSizeMB                   float64 // size of a new file; fractional sizes are allowed
	DataBlockSizeKB              int
	RolloverPreparationThreshold int // usage % at which the standby file is built
	OffloadLocation              string
	OffloadCount                 int
	OffloadThreshold             int // free disk % below which files are offloaded
	OffloadMaxAge                time.Duration
	OffloadCompression           compression.Algorithm
	MaxHistoricFiles             int // < 1 keeps every file
	LeadTimeTolerance            time.Duration
	CompressData                 bool
	DiscardOutOfSequenceData     bool
	CacheWrites                  bool
	ConserveMemory               bool
	ReaderDrainTimeout           time.Duration
	DataBlockIdleTimeout         time.Duration
	MemorySweepInterval          time.Duration
	RolloverWatchInterval        time.Duration
	QueueBatchSize               int

	// Now returns the local clock; defaults to time.Now
	Now func() time.Time
}

// DefaultOptions returns the default options for fileName
func DefaultOptions(fileName string) Options {
	return Options{
		FileName:                     fileName,
		AccessMode:                   ReadWrite,
		FileSizeMB:                   100,
		DataBlockSizeKB:              8,
		RolloverPreparationThreshold: 75,
		OffloadCount:                 5,
		OffloadThreshold:             5,
		MaxHistoricFiles:             -1,
		LeadTimeTolerance:            15 * time.Minute,
		CompressData:                 true,
		CacheWrites:                  true,
		ConserveMemory:               true,
		ReaderDrainTimeout:           5 * time.Second,
		DataBlockIdleTimeout:         300 * time.Second,
		MemorySweepInterval:          60 * time.Second,
		RolloverWatchInterval:        time.Second,
		QueueBatchSize:               1000,
	}
}

// OptionsFromConfig maps the archive configuration section to Options
func OptionsFromConfig(cfg config.ArchiveConfig) (Options, error) {
	algo, err := compression.ParseAlgorithm(cfg.Offload.Compression)
	if err != nil {
		return Options{}, fmt.Errorf("offload compression: %w", err)
	}

	opts := DefaultOptions(cfg.FileName)
	opts.FileSizeMB = float64(cfg.FileSizeMB)
	opts.DataBlockSizeKB = cfg.DataBlockSizeKB
	opts.RolloverPreparationThreshold = cfg.RolloverPreparationThreshold
	opts.OffloadLocation = cfg.Offload.Location
	opts.OffloadCount = cfg.Offload.Count
	opts.OffloadThreshold = cfg.Offload.Threshold
	opts.OffloadMaxAge = time.Duration(cfg.Offload.MaxAgeDays) * 24 * time.Hour
	opts.OffloadCompression = algo
	opts.MaxHistoricFiles = cfg.MaxHistoricFiles
	opts.LeadTimeTolerance = cfg.LeadTimeTolerance
	opts.CompressData = cfg.CompressData
	opts.DiscardOutOfSequenceData = cfg.DiscardOutOfSequenceData
	opts.CacheWrites = cfg.CacheWrites
	opts.ConserveMemory = cfg.ConserveMemory
	if cfg.ReaderDrainTimeout > 0 {
		opts.ReaderDrainTimeout = cfg.ReaderDrainTimeout
	}
	if cfg.DataBlockIdleTimeout > 0 {
		opts.DataBlockIdleTimeout = cfg.DataBlockIdleTimeout
	}
	if cfg.MemorySweepInterval > 0 {
		opts.MemorySweepInterval = cfg.MemorySweepInterval
	}
	if cfg.RolloverWatchInterval > 0 {
		opts.RolloverWatchInterval = cfg.RolloverWatchInterval
	}
	if cfg.QueueBatchSize > 0 {
		opts.QueueBatchSize = cfg.QueueBatchSize
	}
	return opts, opts.Validate()
}

// Validate checks the options
func (o *Options) Validate() error {
	if o.FileName == "" {
		return fmt.Errorf("file name is required")
	}
	if o.DataBlockSizeKB < 1 {
		return fmt.Errorf("data block size must be at least 1 KB")
	}
	if o.FileSizeMB <= 0 || o.blockCount() < 1 {
		return fmt.Errorf("file size %.3f MB holds no %d KB data blocks", o.FileSizeMB, o.DataBlockSizeKB)
	}
	if o.RolloverPreparationThreshold < 1 || o.RolloverPreparationThreshold > 95 {
		return fmt.Errorf("rollover preparation threshold must be between 1 and 95")
	}
	if o.OffloadThreshold < 0 || o.OffloadThreshold > 99 {
		return fmt.Errorf("offload threshold must be between 0 and 99")
	}
	if o.AccessMode != ReadWrite && o.AccessMode != ReadOnly {
		return fmt.Errorf("unknown access mode %d", o.AccessMode)
	}
	return nil
}

func (o *Options) blockCount() int32 {
	return int32(o.FileSizeMB * 1024 / float64(o.DataBlockSizeKB))
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueBatchSize < 1 {
		opts.QueueBatchSize = 1000
	}
	if opts.RolloverWatchInterval <= 0 {
		opts.RolloverWatchInterval = time.Second
	}
	if opts.DataBlockIdleTimeout <= 0 {
		opts.DataBlockIdleTimeout = 300 * time.Second
	}
	if opts.MemorySweepInterval <= 0 {
		opts.MemorySweepInterval = 60 * time.Second
	}
	return opts
}

func (o *Options) now() models.TimeTag {
	return models.NewTimeTag(o.Now())
}

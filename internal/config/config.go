package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Archive ArchiveConfig `mapstructure:"archive"`
	Records RecordsConfig `mapstructure:"records"`
	Logging LoggingConfig `mapstructure:"logging"`
	Points  []PointConfig `mapstructure:"points"` // Signals seeded into the metadata store at startup
}

// ArchiveConfig represents archive file configuration
type ArchiveConfig struct {
	FileName                     string        `mapstructure:"file_name"`                      // Active archive file path
	FileSizeMB                   int           `mapstructure:"file_size_mb"`                   // Initial size of a new archive file
	DataBlockSizeKB              int           `mapstructure:"data_block_size_kb"`             // Size of one data block
	RolloverPreparationThreshold int           `mapstructure:"rollover_preparation_threshold"` // Usage % at which the standby file is built (1-95)
	MaxHistoricFiles             int           `mapstructure:"max_historic_files"`             // -1 keeps every historic file
	LeadTimeTolerance            time.Duration `mapstructure:"lead_time_tolerance"`            // How far ahead of the clock a point may be
	CompressData                 bool          `mapstructure:"compress_data"`
	DiscardOutOfSequenceData     bool          `mapstructure:"discard_out_of_sequence_data"`
	CacheWrites                  bool          `mapstructure:"cache_writes"` // Defer fsync to save points
	ConserveMemory               bool          `mapstructure:"conserve_memory"`
	ReaderDrainTimeout           time.Duration `mapstructure:"reader_drain_timeout"`
	DataBlockIdleTimeout         time.Duration `mapstructure:"data_block_idle_timeout"`
	MemorySweepInterval          time.Duration `mapstructure:"memory_sweep_interval"`
	RolloverWatchInterval        time.Duration `mapstructure:"rollover_watch_interval"`
	QueueBatchSize               int           `mapstructure:"queue_batch_size"`
	Offload                      OffloadConfig `mapstructure:"offload"`
}

// OffloadConfig represents historic file offload settings
type OffloadConfig struct {
	Location    string `mapstructure:"location"`     // Target directory, or *DELETE* to remove files
	Count       int    `mapstructure:"count"`        // Files offloaded per low-space pass
	Threshold   int    `mapstructure:"threshold"`    // Free disk % below which offload starts
	MaxAgeDays  int    `mapstructure:"max_age_days"` // 0 disables age-based offload
	Compression string `mapstructure:"compression"`  // none, snappy
}

// RecordsConfig represents the state/metadata/intercom record stores
type RecordsConfig struct {
	Backend      string `mapstructure:"backend"`       // badger, memory
	Dir          string `mapstructure:"dir"`           // Badger directory
	IntercomFile string `mapstructure:"intercom_file"` // Shared intercom record file
}

// PointConfig describes one signal in the points section
type PointConfig struct {
	ID                 int32    `mapstructure:"id"`
	Name               string   `mapstructure:"name"`
	Description        string   `mapstructure:"description"`
	Type               string   `mapstructure:"type"` // analog, digital, composed, constant
	Enabled            *bool    `mapstructure:"enabled"`
	Units              string   `mapstructure:"units"`
	CompressionLimit   float32  `mapstructure:"compression_limit"`
	CompressionMinTime int64    `mapstructure:"compression_min_time"`
	CompressionMaxTime int64    `mapstructure:"compression_max_time"`
	HighRange          *float32 `mapstructure:"high_range"`
	HighAlarm          *float32 `mapstructure:"high_alarm"`
	HighWarning        *float32 `mapstructure:"high_warning"`
	LowWarning         *float32 `mapstructure:"low_warning"`
	LowAlarm           *float32 `mapstructure:"low_alarm"`
	LowRange           *float32 `mapstructure:"low_range"`
	AlarmState         int32    `mapstructure:"alarm_state"`
	AlarmEnabled       bool     `mapstructure:"alarm_enabled"`
	AlarmFlags         uint32   `mapstructure:"alarm_flags"`
	AlarmDelay         float64  `mapstructure:"alarm_delay"`
	Value              float32  `mapstructure:"value"`
	Equation           string   `mapstructure:"equation"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, UnixMs, etc
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.Records.Validate(); err != nil {
		return fmt.Errorf("records config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	seen := make(map[int32]bool, len(c.Points))
	for i := range c.Points {
		if err := c.Points[i].Validate(); err != nil {
			return fmt.Errorf("points[%d]: %w", i, err)
		}
		if seen[c.Points[i].ID] {
			return fmt.Errorf("points[%d]: duplicate id %d", i, c.Points[i].ID)
		}
		seen[c.Points[i].ID] = true
	}

	return nil
}

// Validate validates archive configuration
func (c *ArchiveConfig) Validate() error {
	if c.FileName == "" {
		return fmt.Errorf("file_name is required")
	}

	if c.FileSizeMB < 1 {
		return fmt.Errorf("file_size_mb must be at least 1")
	}

	if c.DataBlockSizeKB < 1 || c.DataBlockSizeKB > c.FileSizeMB*1024 {
		return fmt.Errorf("invalid data_block_size_kb: %d", c.DataBlockSizeKB)
	}

	if c.RolloverPreparationThreshold < 1 || c.RolloverPreparationThreshold > 95 {
		return fmt.Errorf("rollover_preparation_threshold must be between 1 and 95")
	}

	if c.MaxHistoricFiles < -1 {
		return fmt.Errorf("max_historic_files must be -1 or greater")
	}

	if c.LeadTimeTolerance < 0 {
		return fmt.Errorf("lead_time_tolerance cannot be negative")
	}

	if c.QueueBatchSize < 1 {
		return fmt.Errorf("queue_batch_size must be positive")
	}

	if c.ReaderDrainTimeout <= 0 || c.RolloverWatchInterval <= 0 {
		return fmt.Errorf("reader_drain_timeout and rollover_watch_interval must be positive")
	}

	return c.Offload.Validate()
}

// Validate validates offload configuration
func (c *OffloadConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("offload.threshold must be between 0 and 100")
	}

	if c.Count < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("offload.count and offload.max_age_days cannot be negative")
	}

	switch c.Compression {
	case "", "none", "snappy":
	default:
		return fmt.Errorf("offload.compression must be 'none' or 'snappy'")
	}

	return nil
}

// Validate validates records configuration
func (c *RecordsConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "badger":
		if c.Dir == "" {
			return fmt.Errorf("records.dir is required for the badger backend")
		}
	default:
		return fmt.Errorf("records.backend must be 'badger' or 'memory'")
	}

	return nil
}

// Validate validates a point definition
func (c *PointConfig) Validate() error {
	if c.ID < 1 {
		return fmt.Errorf("invalid id: %d", c.ID)
	}

	switch c.Type {
	case "", "analog", "digital", "composed", "constant":
	default:
		return fmt.Errorf("unknown type %q", c.Type)
	}

	if c.CompressionLimit < 0 {
		return fmt.Errorf("compression_limit cannot be negative")
	}

	if c.CompressionMaxTime > 0 && c.CompressionMinTime > c.CompressionMaxTime {
		return fmt.Errorf("compression_min_time exceeds compression_max_time")
	}

	return nil
}

// IsEnabled reports whether the point accepts data; points are enabled unless set otherwise
func (c *PointConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

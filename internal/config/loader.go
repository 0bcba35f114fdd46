package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")              // Current directory
		v.AddConfigPath("./configs")      // Project configs directory
		v.AddConfigPath("./config")       // Alternative config directory
		v.AddConfigPath("/etc/historian") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides (HISTORIAN_ARCHIVE_FILE_SIZE_MB, ...)
	v.SetEnvPrefix("HISTORIAN")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Archive defaults
	v.SetDefault("archive.file_name", "./data/archive.d")
	v.SetDefault("archive.file_size_mb", 100)
	v.SetDefault("archive.data_block_size_kb", 8)
	v.SetDefault("archive.rollover_preparation_threshold", 75)
	v.SetDefault("archive.max_historic_files", -1)
	v.SetDefault("archive.lead_time_tolerance", "15m")
	v.SetDefault("archive.compress_data", true)
	v.SetDefault("archive.discard_out_of_sequence_data", false)
	v.SetDefault("archive.cache_writes", true)
	v.SetDefault("archive.conserve_memory", true)
	v.SetDefault("archive.reader_drain_timeout", "5s")
	v.SetDefault("archive.data_block_idle_timeout", "5m")
	v.SetDefault("archive.memory_sweep_interval", "1m")
	v.SetDefault("archive.rollover_watch_interval", "1s")
	v.SetDefault("archive.queue_batch_size", 1000)
	v.SetDefault("archive.offload.location", "")
	v.SetDefault("archive.offload.count", 5)
	v.SetDefault("archive.offload.threshold", 5)
	v.SetDefault("archive.offload.max_age_days", 0)
	v.SetDefault("archive.offload.compression", "none")

	// Records defaults
	v.SetDefault("records.backend", "badger")
	v.SetDefault("records.dir", "./data/records")
	v.SetDefault("records.intercom_file", "./data/intercom.dat")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		// Return default configuration
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			FileName:                     "./data/archive.d",
			FileSizeMB:                   100,
			DataBlockSizeKB:              8,
			RolloverPreparationThreshold: 75,
			MaxHistoricFiles:             -1,
			LeadTimeTolerance:            15 * time.Minute,
			CompressData:                 true,
			CacheWrites:                  true,
			ConserveMemory:               true,
			ReaderDrainTimeout:           5 * time.Second,
			DataBlockIdleTimeout:         5 * time.Minute,
			MemorySweepInterval:          time.Minute,
			RolloverWatchInterval:        time.Second,
			QueueBatchSize:               1000,
			Offload: OffloadConfig{
				Count:       5,
				Threshold:   5,
				Compression: "none",
			},
		},
		Records: RecordsConfig{
			Backend:      "badger",
			Dir:          "./data/records",
			IntercomFile: "./data/intercom.dat",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

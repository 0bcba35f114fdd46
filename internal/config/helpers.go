package config

import (
	"os"
	"path/filepath"
	"strings"
)

// OffloadDelete as offload location removes historic files instead of moving them
const OffloadDelete = "*DELETE*"

var envKeyReplacer = strings.NewReplacer(".", "_")

// EnsureDirectories ensures all required directories exist
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Archive.FileName),
	}
	if c.Records.Backend == "badger" {
		dirs = append(dirs, c.Records.Dir)
	}
	if c.Records.IntercomFile != "" {
		dirs = append(dirs, filepath.Dir(c.Records.IntercomFile))
	}
	if c.Archive.Offload.Location != "" && c.Archive.Offload.Location != OffloadDelete {
		dirs = append(dirs, c.Archive.Offload.Location)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Logging.Level == "info" && c.Logging.Format == "json"
}

// Point returns the configured point with the given id
func (c *Config) Point(id int32) (PointConfig, bool) {
	for _, p := range c.Points {
		if p.ID == id {
			return p, true
		}
	}
	return PointConfig{}, false
}

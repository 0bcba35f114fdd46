package archive

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/soltixdb/historian/internal/models"
)

// StandbyExtension is the extension of the pre-built standby file
const StandbyExtension = ".standby"

// partialExtension marks a standby file that is still being built
const partialExtension = ".partial"

// historicTimeLayout is the time format embedded in historic file names,
// with ':' replaced by '!'
const historicTimeLayout = "2006-01-02 15!04!05.000"

var historicNamePattern = regexp.MustCompile(
	`^(.+)_(\d{4}-\d{2}-\d{2} \d{2}!\d{2}!\d{2}\.\d{3})_to_(\d{4}-\d{2}-\d{2} \d{2}!\d{2}!\d{2}\.\d{3})(\.[^.]*)?$`)

func splitExt(path string) (string, string) {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext), ext
}

// HistoricFileName returns the name an active file takes when rolled over
// covering [start, end]
func HistoricFileName(activeName string, start, end models.TimeTag) string {
	base, ext := splitExt(activeName)
	return base + "_" + start.Time().Format(historicTimeLayout) + "_to_" + end.Time().Format(historicTimeLayout) + ext
}

// StandbyFileName returns the standby file name for an active file
func StandbyFileName(activeName string) string {
	base, _ := splitExt(activeName)
	return base + StandbyExtension
}

// historicFilePattern returns the glob matching the historic files of
// activeName inside dir
func historicFilePattern(activeName, dir string) string {
	base, ext := splitExt(filepath.Base(activeName))
	return filepath.Join(dir, base+"_*_to_*"+ext)
}

// ParseHistoricFileName extracts the time range from a historic file name.
// Offloaded files carrying a compression suffix are recognized too.
func ParseHistoricFileName(path string) (start, end models.TimeTag, ok bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".snappy")
	m := historicNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	s, err := time.Parse(historicTimeLayout, m[2])
	if err != nil {
		return 0, 0, false
	}
	e, err := time.Parse(historicTimeLayout, m[3])
	if err != nil {
		return 0, 0, false
	}
	return models.NewTimeTag(s), models.NewTimeTag(e), true
}

// FileTypeOf derives the role of an archive file from its name
func FileTypeOf(path string) FileType {
	if filepath.Ext(path) == StandbyExtension {
		return FileTypeStandby
	}
	if _, _, ok := ParseHistoricFileName(path); ok {
		return FileTypeHistoric
	}
	return FileTypeActive
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/soltixdb/historian/internal/compression"
	"github.com/soltixdb/historian/internal/config"
)

func (af *ArchiveFile) primaryHistoricFiles() []HistoricFileInfo {
	primary := filepath.Clean(filepath.Dir(af.opts.FileName))

	af.historicMu.RLock()
	defer af.historicMu.RUnlock()

	var files []HistoricFileInfo
	for _, f := range af.historic {
		if filepath.Clean(filepath.Dir(f.Path)) == primary {
			files = append(files, f)
		}
	}
	return files
}

// offloadAgedFiles offloads primary historic files older than OffloadMaxAge
func (af *ArchiveFile) offloadAgedFiles() {
	if af.opts.OffloadLocation == "" || af.opts.OffloadMaxAge <= 0 {
		return
	}

	now := af.opts.now()
	var aged []HistoricFileInfo
	for _, f := range af.primaryHistoricFiles() {
		if now.Sub(f.Start) > af.opts.OffloadMaxAge.Seconds() {
			aged = append(aged, f)
		}
	}
	af.offloadFiles(aged)
}

// offloadOnLowSpace offloads the oldest primary historic files when free
// space on the primary disk drops below OffloadThreshold percent
func (af *ArchiveFile) offloadOnLowSpace() {
	if af.opts.OffloadLocation == "" || af.opts.OffloadCount < 1 {
		return
	}

	free, err := freeSpacePercent(filepath.Dir(af.opts.FileName))
	if err != nil {
		af.logger.Warn("Failed to read free disk space", "error", err)
		return
	}
	if free >= float64(af.opts.OffloadThreshold) {
		return
	}

	files := af.primaryHistoricFiles()
	if len(files) > af.opts.OffloadCount {
		files = files[:af.opts.OffloadCount]
	}
	af.logger.Info("Low disk space, offloading historic files",
		"free_percent", free,
		"files", len(files))
	af.offloadFiles(files)
}

// enforceMaxHistoricFiles deletes the oldest historic files beyond the limit
func (af *ArchiveFile) enforceMaxHistoricFiles() {
	if af.opts.MaxHistoricFiles < 1 {
		return
	}

	// No backfill may be writing into a file while it is deleted
	af.historicWriteMu.Lock()
	defer af.historicWriteMu.Unlock()

	af.historicMu.RLock()
	excess := len(af.historic) - af.opts.MaxHistoricFiles
	var doomed []HistoricFileInfo
	if excess > 0 {
		doomed = append(doomed, af.historic[:excess]...)
	}
	af.historicMu.RUnlock()

	for _, f := range doomed {
		if err := removeFile(f.Path); err != nil {
			af.events.notify(Event{Kind: EventOffloadException, FileName: f.Path, Err: err})
			continue
		}
		af.removeHistoricFile(f.Path)
		af.logger.Info("Deleted historic file beyond retention", "path", f.Path)
	}
}

func (af *ArchiveFile) offloadFiles(files []HistoricFileInfo) {
	if len(files) == 0 {
		return
	}

	total := len(files)
	af.events.notify(Event{Kind: EventOffloadStart, FileName: af.opts.OffloadLocation, Total: total})
	for i, f := range files {
		if err := af.offloadFile(f); err != nil {
			af.events.notify(Event{Kind: EventOffloadException, FileName: f.Path, Err: err})
		}
		af.events.notify(Event{Kind: EventOffloadProgress, FileName: f.Path, Completed: i + 1, Total: total})
	}
	af.events.notify(Event{Kind: EventOffloadComplete, FileName: af.opts.OffloadLocation, Completed: total, Total: total})
}

// offloadFile deletes, compresses or moves one historic file. Compressed
// files leave the historic list since they can no longer be scanned.
func (af *ArchiveFile) offloadFile(f HistoricFileInfo) error {
	af.historicWriteMu.Lock()
	defer af.historicWriteMu.Unlock()

	// The list may have changed since the candidates were chosen
	if !af.hasHistoricFile(f.Path) {
		return nil
	}

	loc := af.opts.OffloadLocation
	if loc == config.OffloadDelete {
		if err := removeFile(f.Path); err != nil {
			return err
		}
		af.removeHistoricFile(f.Path)
		return nil
	}

	if err := os.MkdirAll(loc, 0o755); err != nil {
		return fmt.Errorf("failed to create offload location: %w", err)
	}
	dest := filepath.Join(loc, filepath.Base(f.Path))

	if af.opts.OffloadCompression != compression.None {
		c, err := compression.GetCompressor(af.opts.OffloadCompression)
		if err != nil {
			return err
		}
		if err := compression.CompressFile(c, f.Path, dest+c.Extension()); err != nil {
			return err
		}
		if err := removeFile(f.Path); err != nil {
			return err
		}
		af.removeHistoricFile(f.Path)
		return nil
	}

	if err := moveFile(f.Path, dest); err != nil {
		return err
	}
	af.removeHistoricFile(f.Path)
	af.addHistoricFile(HistoricFileInfo{Path: dest, Start: f.Start, End: f.End})
	return nil
}

// moveFile renames src to dst, copying across devices when needed
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = removeFile(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}


package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/soltixdb/historian/internal/config"
)

// historicListWorkers bounds how many historic files are opened at once
// while the list is built
const historicListWorkers = 4

// buildHistoricFileList reads the time range of every historic file in the
// primary and offload locations
func (af *ArchiveFile) buildHistoricFileList() {
	defer af.wg.Done()
	defer close(af.historicReady)

	af.events.notify(Event{Kind: EventHistoricFileListBuildStart, FileName: af.opts.FileName})

	paths, err := af.historicFilePaths()
	if err != nil {
		af.events.notify(Event{Kind: EventHistoricFileListBuildException, FileName: af.opts.FileName, Err: err})
		return
	}

	infos := make([]HistoricFileInfo, len(paths))
	loaded := make([]bool, len(paths))

	var g errgroup.Group
	g.SetLimit(historicListWorkers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			info, err := readHistoricFileInfo(path)
			if err != nil {
				return err
			}
			infos[i], loaded[i] = info, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		af.events.notify(Event{Kind: EventHistoricFileListBuildException, FileName: af.opts.FileName, Err: err})
	}

	for i, ok := range loaded {
		if ok {
			af.addHistoricFile(infos[i])
		}
	}

	af.events.notify(Event{Kind: EventHistoricFileListBuildComplete, FileName: af.opts.FileName, Total: len(paths), Completed: len(paths)})
}

func (af *ArchiveFile) historicFilePaths() ([]string, error) {
	dirs := []string{filepath.Dir(af.opts.FileName)}
	if loc := af.opts.OffloadLocation; loc != "" && loc != config.OffloadDelete {
		dirs = append(dirs, loc)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, dir := range dirs {
		matches, err := filepath.Glob(historicFilePattern(af.opts.FileName, dir))
		if err != nil {
			return nil, fmt.Errorf("failed to list historic files in %s: %w", dir, err)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				abs = m
			}
			if !seen[abs] && FileTypeOf(m) == FileTypeHistoric {
				seen[abs] = true
				paths = append(paths, m)
			}
		}
	}
	return paths, nil
}

func readHistoricFileInfo(path string) (HistoricFileInfo, error) {
	fat, err := loadTable(path, true, false)
	if err != nil {
		return HistoricFileInfo{}, err
	}
	defer fat.Close()
	return HistoricFileInfo{Path: path, Start: fat.FileStart(), End: fat.FileEnd()}, nil
}

// addHistoricFile inserts or replaces info, keeping the list sorted by start
func (af *ArchiveFile) addHistoricFile(info HistoricFileInfo) {
	af.historicMu.Lock()
	defer af.historicMu.Unlock()

	for i := range af.historic {
		if af.historic[i].Path == info.Path {
			af.historic[i] = info
			af.sortHistoricLocked()
			return
		}
	}
	af.historic = append(af.historic, info)
	af.sortHistoricLocked()
}

func (af *ArchiveFile) hasHistoricFile(path string) bool {
	af.historicMu.RLock()
	defer af.historicMu.RUnlock()

	for _, h := range af.historic {
		if h.Path == path {
			return true
		}
	}
	return false
}

func (af *ArchiveFile) sortHistoricLocked() {
	sort.SliceStable(af.historic, func(i, j int) bool {
		return af.historic[i].Start < af.historic[j].Start
	})
}

func (af *ArchiveFile) removeHistoricFile(path string) {
	af.historicMu.Lock()
	defer af.historicMu.Unlock()

	for i := range af.historic {
		if af.historic[i].Path == path {
			af.historic = append(af.historic[:i], af.historic[i+1:]...)
			return
		}
	}
}

// HistoricFiles returns the historic files, oldest first, once the list has
// been built
func (af *ArchiveFile) HistoricFiles(ctx context.Context) ([]HistoricFileInfo, error) {
	if err := af.waitHistoricList(ctx); err != nil {
		return nil, err
	}
	af.historicMu.RLock()
	defer af.historicMu.RUnlock()
	return append([]HistoricFileInfo(nil), af.historic...), nil
}

func (af *ArchiveFile) rolledFile(generation uint64) (HistoricFileInfo, bool) {
	af.rolledMu.Lock()
	defer af.rolledMu.Unlock()
	info, ok := af.rolled[generation]
	return info, ok
}

package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/soltixdb/historian/internal/models"
)

// processHistoricData writes points older than the active file into the
// historic files covering them
func (af *ArchiveFile) processHistoricData(points []models.DataPoint) {
	_ = af.waitHistoricList(context.Background())

	af.historicWriteMu.Lock()
	defer af.historicWriteMu.Unlock()

	af.historicMu.RLock()
	files := append([]HistoricFileInfo(nil), af.historic...)
	af.historicMu.RUnlock()

	bins := make(map[string][]models.DataPoint)
	for _, p := range points {
		target := ""
		for _, f := range files {
			if f.contains(p.Time) {
				target = f.Path
				break
			}
		}
		if target == "" {
			af.events.pointEvent(EventDataWriteException, p, ErrNoHistoricFile)
			continue
		}
		bins[target] = append(bins[target], p)
	}

	for _, f := range files {
		if pts, ok := bins[f.Path]; ok {
			if err := af.writeHistoricFile(f.Path, pts); err != nil {
				af.events.notify(Event{Kind: EventDataWriteException, FileName: f.Path, Err: err, Total: len(pts)})
			}
		}
	}
}

func (af *ArchiveFile) writeHistoricFile(path string, points []models.DataPoint) error {
	fat, err := loadTable(path, false, af.opts.CacheWrites)
	if err != nil {
		return err
	}
	defer fat.Close()

	byID := make(map[int32][]models.DataPoint)
	for _, p := range points {
		byID[p.HistorianID] = append(byID[p.HistorianID], p)
	}
	ids := make([]int32, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Size the extension for every id up front so the file grows once
	capacity := fat.BlockSizeKB() * 1024 / models.DataPointBinaryLength
	var needed int32
	for _, id := range ids {
		overflow := len(byID[id])
		if last := fat.FindLastDataBlock(id); last != nil {
			overflow -= last.SlotsAvailable()
		}
		if overflow > 0 {
			needed += int32((overflow + capacity - 1) / capacity)
		}
	}
	if free := fat.BlockCount() - fat.BlocksUsed(); needed > free {
		if err := fat.Extend(needed - free); err != nil {
			return err
		}
	}

	for _, id := range ids {
		pts := byID[id]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })

		block := fat.FindLastDataBlock(id)
		for _, p := range pts {
			if block == nil || block.SlotsAvailable() == 0 {
				preferred := int32(-1)
				if block != nil {
					preferred = block.Index()
				}
				if block, err = fat.RequestDataBlock(id, p.Time, preferred); err != nil {
					return fmt.Errorf("historian id %d: %w", id, err)
				}
			}
			if err := block.Write(p); err != nil {
				if !errors.Is(err, ErrBadTimestamp) {
					af.events.pointEvent(EventDataWriteException, p, err)
				}
				continue
			}
			fat.noteArchived(p.Time)
		}
		fat.AddReceived(int64(len(pts)))
	}
	return fat.Save()
}

// processOutOfSequenceData accepts out-of-sequence points without persisting
// them; each batch is reported as not implemented
func (af *ArchiveFile) processOutOfSequenceData(points []models.DataPoint) {
	if len(points) == 0 {
		return
	}
	af.events.notify(Event{
		Kind:      EventDataWriteException,
		Point:     points[0],
		HasPoint:  true,
		FileName:  af.opts.FileName,
		Err:       ErrNotImplemented,
		Completed: 0,
		Total:     len(points),
	})
}

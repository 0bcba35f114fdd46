package archive

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

func isNotFound(err error) bool {
	return errors.Is(err, records.ErrNotFound)
}

// batchContext carries the intercom record read once per batch
type batchContext struct {
	intercom      models.IntercomRecord
	intercomDirty bool
}

// processCurrentData runs the archival state machine over a batch of points.
// Points are handled per historian id in the order the ids first appear.
func (af *ArchiveFile) processCurrentData(points []models.DataPoint) {
	_ = af.gate.Wait(context.Background())

	af.archiveMu.Lock()
	defer af.archiveMu.Unlock()

	if af.table() == nil {
		return
	}

	bc := &batchContext{}
	if ic, err := af.intercom.ReadIntercom(records.RolloverSlot); err == nil {
		bc.intercom = ic
	} else {
		af.logger.Error("Failed to read intercom record", "error", err)
	}

	var order []int32
	groups := make(map[int32][]models.DataPoint)
	for _, p := range points {
		if _, ok := groups[p.HistorianID]; !ok {
			order = append(order, p.HistorianID)
		}
		groups[p.HistorianID] = append(groups[p.HistorianID], p)
	}

	for _, id := range order {
		af.processSignal(bc, id, groups[id])
	}

	if fat := af.table(); fat != nil {
		if err := fat.saveIfDirty(); err != nil {
			af.events.notify(Event{Kind: EventDataWriteException, FileName: fat.Path(), Err: err})
		}
	}
}

func (af *ArchiveFile) processSignal(bc *batchContext, id int32, points []models.DataPoint) {
	meta, err := af.metadata.ReadMetadata(id)
	if err != nil || !meta.Enabled {
		for _, p := range points {
			af.events.pointEvent(EventOrphanData, p, ErrOrphan)
		}
		return
	}

	state, err := af.readState(id)
	if err != nil {
		for _, p := range points {
			af.events.pointEvent(EventDataWriteException, p, fmt.Errorf("failed to read state: %w", err))
		}
		return
	}

	leadTime := af.opts.now().Add(af.opts.LeadTimeTolerance)
	for _, p := range points {
		if p.Time > leadTime {
			af.events.pointEvent(EventFutureData, p, ErrFutureData)
			continue
		}
		if p.Quality == models.QualityUnknown {
			p.Quality = meta.ClassifyQuality(p.Value)
		}

		// Rollover resets the intercom record, so the mark restarts with the new file
		if p.Time > bc.intercom.LatestDataTime {
			bc.intercom.LatestDataID = id
			bc.intercom.LatestDataTime = p.Time
			if err := af.intercom.WriteIntercom(records.RolloverSlot, bc.intercom); err != nil {
				af.logger.Error("Failed to update latest data", "error", err)
			}
		}

		last := state.PreviousData
		if last.IsEmpty() {
			last = state.ArchivedData
		}
		if !last.IsEmpty() && p.Time <= last.Time {
			if p.Equivalent(last) {
				continue
			}
			if !af.opts.DiscardOutOfSequenceData {
				af.oosQueue.Add(p)
			}
			af.events.pointEvent(EventOutOfSequenceData, p, ErrOutOfSequence)
			continue
		}

		af.archiveState(bc, &meta, &state, p)

		if err := af.states.WriteState(id, state); err != nil {
			af.events.pointEvent(EventDataWriteException, p, fmt.Errorf("failed to write state: %w", err))
		}
	}
}

// archiveState applies swinging-door compression to p and archives whatever
// point the decision selects
func (af *ArchiveFile) archiveState(bc *batchContext, meta *models.MetadataRecord, state *models.StateRecord, p models.DataPoint) {
	if fat := af.table(); fat != nil {
		fat.AddReceived(1)
	}
	state.CurrentData = p

	archived := state.ArchivedData
	previous := state.PreviousData
	current := state.CurrentData

	switch {
	case archived.IsEmpty():
		state.CurrentData = models.EmptyDataPoint(p.HistorianID)
		af.archivePoint(bc, state, p)

	case previous.IsEmpty():
		af.calculateSlopes(meta, state)

	default:
		if meta.AlarmEnabled {
			af.checkAlarm(meta, current)
		}

		switch {
		case !af.opts.CompressData:
			af.archivePoint(bc, state, previous)
		case meta.CompressionMinTime > 0 && current.Time.Sub(archived.Time) < float64(meta.CompressionMinTime):
			// Too soon after the last archived point
		case current.Quality != archived.Quality || current.Quality != previous.Quality ||
			(meta.CompressionMaxTime > 0 && previous.Time.Sub(archived.Time) > float64(meta.CompressionMaxTime)):
			af.archivePoint(bc, state, previous)
			af.calculateSlopes(meta, state)
		default:
			limit := float64(meta.CompressionLimit())
			dt := current.Time.Sub(archived.Time)
			slope1 := (float64(current.Value) - (float64(archived.Value) + limit)) / dt
			slope2 := (float64(current.Value) - (float64(archived.Value) - limit)) / dt
			slope := (float64(current.Value) - float64(archived.Value)) / dt

			state.Slope1 = math.Max(state.Slope1, slope1)
			state.Slope2 = math.Min(state.Slope2, slope2)
			if slope <= state.Slope1 || slope >= state.Slope2 {
				af.archivePoint(bc, state, previous)
				af.calculateSlopes(meta, state)
			}
		}
	}

	state.PreviousData = state.CurrentData
}

// calculateSlopes restarts the compression envelope from the archived point
func (af *ArchiveFile) calculateSlopes(meta *models.MetadataRecord, state *models.StateRecord) {
	a, c := state.ArchivedData, state.CurrentData
	if c.Time == a.Time {
		state.Slope1, state.Slope2 = 0, 0
		return
	}
	limit := float64(meta.CompressionLimit())
	dt := c.Time.Sub(a.Time)
	state.Slope1 = (float64(c.Value) - (float64(a.Value) + limit)) / dt
	state.Slope2 = (float64(c.Value) - (float64(a.Value) - limit)) / dt
}

// checkAlarm raises an alarm when the point's quality is selected by the
// alarm flags, once the condition has lasted the configured delay
func (af *ArchiveFile) checkAlarm(meta *models.MetadataRecord, p models.DataPoint) {
	id := p.HistorianID
	if !meta.RaisesAlarm(p.Quality) {
		delete(af.pendingAlarms, id)
		return
	}
	if meta.AlarmDelay <= 0 {
		af.events.pointEvent(EventAlarm, p, nil)
		return
	}
	first, ok := af.pendingAlarms[id]
	if !ok {
		af.pendingAlarms[id] = p.Time
		return
	}
	if p.Time.Sub(first) > meta.AlarmDelay {
		af.events.pointEvent(EventAlarm, p, nil)
		delete(af.pendingAlarms, id)
	}
}

// archivePoint writes p to the active file, rolling the file over once when
// it is full. Points older than the file start go to the historic pipeline.
func (af *ArchiveFile) archivePoint(bc *batchContext, state *models.StateRecord, p models.DataPoint) {
	for attempt := 0; ; attempt++ {
		fat := af.table()
		if fat == nil {
			af.events.pointEvent(EventDataWriteException, p, ErrFileNotOpen)
			return
		}

		if p.Time < fat.FileStart() {
			fat.AddReceived(-1)
			af.historicQueue.Add(p)
			break
		}

		block, err := fat.RequestDataBlock(p.HistorianID, p.Time, state.ActiveDataBlockIndex)
		if errors.Is(err, ErrFileFull) && attempt == 0 {
			af.events.notify(Event{Kind: EventFileFull, Point: p, HasPoint: true, FileName: fat.Path()})
			fat.AddReceived(-1)
			if rerr := af.rolloverLocked(); rerr != nil {
				af.events.pointEvent(EventDataWriteException, p, rerr)
				return
			}
			if ic, err := af.intercom.ReadIntercom(records.RolloverSlot); err == nil {
				bc.intercom = ic
			}
			state.ActiveDataBlockIndex = -1
			state.ActiveDataBlockSlot = 0
			if nfat := af.table(); nfat != nil {
				nfat.AddReceived(1)
			}
			continue
		}
		if err != nil {
			af.events.pointEvent(EventDataWriteException, p, err)
			return
		}

		if block.Index() != state.ActiveDataBlockIndex {
			state.ActiveDataBlockIndex = block.Index()
			bc.intercom.DataBlocksUsed = fat.BlocksUsed()
			if err := af.intercom.WriteIntercom(records.RolloverSlot, bc.intercom); err != nil {
				af.logger.Error("Failed to update blocks used", "error", err)
			}
			af.checkRolloverPreparation(fat)
		}

		if err := block.Write(p); err != nil {
			af.events.pointEvent(EventDataWriteException, p, err)
		} else {
			fat.noteArchived(p.Time)
			state.ActiveDataBlockSlot = int32(block.SlotsUsed())
		}
		break
	}
	state.ArchivedData = p
}

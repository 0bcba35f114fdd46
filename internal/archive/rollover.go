package archive

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

// Rollover turns the active file into a historic file and continues in the
// standby file, or a fresh file when no standby was prepared.
func (af *ArchiveFile) Rollover() error {
	if !af.IsOpen() {
		return ErrFileNotOpen
	}
	if af.fileType != FileTypeActive {
		return ErrWrongFileType
	}
	if af.opts.AccessMode == ReadOnly {
		return ErrReadOnly
	}

	af.archiveMu.Lock()
	defer af.archiveMu.Unlock()
	return af.rolloverLocked()
}

// rolloverLocked performs the rollover; archiveMu must be held
func (af *ArchiveFile) rolloverLocked() error {
	opID := uuid.NewString()
	logger := af.logger.With("operation_id", opID)

	af.gate.Shut()
	defer af.gate.Release()
	af.rollingOver.Store(true)
	defer af.rollingOver.Store(false)

	af.events.notify(Event{Kind: EventRolloverStart, FileName: af.opts.FileName, OperationID: opID})

	info, err := af.swapActiveFile(logger.With("phase", "swap"))
	if err != nil {
		af.events.notify(Event{Kind: EventRolloverException, FileName: af.opts.FileName, OperationID: opID, Err: err})
		return fmt.Errorf("rollover failed: %w", err)
	}

	gen := af.generation.Add(1) - 1
	af.rolledMu.Lock()
	af.rolled[gen] = info
	af.rolledMu.Unlock()
	af.addHistoricFile(info)

	logger.Info("Rollover complete",
		"historic_file", info.Path,
		"start", info.Start.String(),
		"end", info.End.String())
	af.events.notify(Event{Kind: EventRolloverComplete, FileName: info.Path, OperationID: opID})
	return nil
}

func (af *ArchiveFile) swapActiveFile(logger *logging.Logger) (HistoricFileInfo, error) {
	active := af.opts.FileName
	fat := af.table()
	if fat == nil {
		return HistoricFileInfo{}, ErrFileNotOpen
	}

	// Signal other processes before touching the file
	ic, err := af.intercom.ReadIntercom(records.RolloverSlot)
	if err != nil {
		return HistoricFileInfo{}, fmt.Errorf("failed to read intercom: %w", err)
	}
	ic.RolloverInProgress = true
	ic.DataBlocksUsed = 0
	ic.LatestDataID = -1
	ic.LatestDataTime = models.MinTimeTag
	if err := af.intercom.WriteIntercom(records.RolloverSlot, ic); err != nil {
		return HistoricFileInfo{}, fmt.Errorf("failed to signal rollover: %w", err)
	}
	defer func() {
		ic.RolloverInProgress = false
		if err := af.intercom.WriteIntercom(records.RolloverSlot, ic); err != nil {
			logger.Warn("Failed to clear rollover signal", "error", err)
		}
	}()

	end := fat.FileEnd()
	ids, err := af.states.StateIDs()
	if err != nil {
		return HistoricFileInfo{}, fmt.Errorf("failed to list states: %w", err)
	}
	for _, id := range ids {
		st, err := af.states.ReadState(id)
		if err != nil {
			return HistoricFileInfo{}, fmt.Errorf("failed to read state %d: %w", id, err)
		}
		st.ActiveDataBlockIndex = -1
		st.ActiveDataBlockSlot = 0
		if st.ArchivedData.Time > end {
			end = st.ArchivedData.Time
		}
		if err := af.states.WriteState(id, st); err != nil {
			return HistoricFileInfo{}, fmt.Errorf("failed to write state %d: %w", id, err)
		}
	}

	start := fat.FileStart()
	if start == models.MinTimeTag {
		if earliest, ok := fat.EarliestBlockStart(); ok {
			start = earliest
		} else {
			start = end
		}
	}
	fat.SetFileStart(start)
	fat.SetFileEnd(end)
	if err := fat.Save(); err != nil {
		return HistoricFileInfo{}, err
	}

	if !af.gate.WaitForReaders(af.opts.ReaderDrainTimeout) {
		logger.Warn("Readers still active after drain timeout", "readers", af.gate.Readers())
	}

	af.mu.Lock()
	defer af.mu.Unlock()

	if err := af.fat.Close(); err != nil {
		return HistoricFileInfo{}, fmt.Errorf("failed to close active file: %w", err)
	}

	historic := HistoricFileName(active, start, end)
	if err := os.Rename(active, historic); err != nil {
		if reopened, rerr := loadTable(active, false, af.opts.CacheWrites); rerr == nil {
			af.fat = reopened
		} else {
			af.fat = nil
		}
		return HistoricFileInfo{}, fmt.Errorf("failed to rename active file: %w", err)
	}

	standby := StandbyFileName(active)
	var next *AllocationTable
	if fileExists(standby) {
		if err = os.Rename(standby, active); err == nil {
			next, err = loadTable(active, false, af.opts.CacheWrites)
		}
	} else {
		next, err = createTable(active, af.opts.DataBlockSizeKB, af.opts.blockCount(), af.opts.CacheWrites)
	}
	if err == nil {
		next.SetFileStart(end)
		next.SetFileEnd(end)
		err = next.Save()
	}
	if err != nil {
		if next != nil {
			next.Close()
		}
		_ = removeFile(active)
		af.fat = nil
		return HistoricFileInfo{}, fmt.Errorf("failed to open new active file: %w", err)
	}

	af.fat = next
	return HistoricFileInfo{Path: historic, Start: start, End: end}, nil
}

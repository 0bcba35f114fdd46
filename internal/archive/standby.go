package archive

import (
	"context"
	"fmt"
	"os"
)

// checkRolloverPreparation starts building the standby file once usage
// crosses the preparation threshold
func (af *ArchiveFile) checkRolloverPreparation(fat *AllocationTable) {
	if fat.Usage() < float64(af.opts.RolloverPreparationThreshold) {
		return
	}
	if fileExists(StandbyFileName(af.opts.FileName)) {
		return
	}
	if !af.preparing.CompareAndSwap(false, true) {
		return
	}

	af.wg.Add(1)
	go func() {
		defer af.wg.Done()
		defer af.preparing.Store(false)
		af.prepareForRollover()
	}()
}

// prepareForRollover runs historic file maintenance and builds the standby file
func (af *ArchiveFile) prepareForRollover() {
	_ = af.waitHistoricList(context.Background())

	af.offloadAgedFiles()
	af.offloadOnLowSpace()
	af.enforceMaxHistoricFiles()

	af.events.notify(Event{Kind: EventRolloverPreparationStart, FileName: af.opts.FileName})

	standby := StandbyFileName(af.opts.FileName)
	if err := af.createStandbyFile(standby); err != nil {
		af.events.notify(Event{Kind: EventRolloverPreparationException, FileName: standby, Err: err})
		return
	}

	af.events.notify(Event{Kind: EventRolloverPreparationComplete, FileName: standby})
}

// createStandbyFile builds the standby under a temporary name so a failed
// build never leaves a file that a rollover would promote
func (af *ArchiveFile) createStandbyFile(standby string) error {
	partial := standby + partialExtension
	if err := removeFile(partial); err != nil {
		return err
	}

	fat, err := createTable(partial, af.opts.DataBlockSizeKB, af.opts.blockCount(), af.opts.CacheWrites)
	if err != nil {
		_ = removeFile(partial)
		return err
	}
	if err := fat.Close(); err != nil {
		_ = removeFile(partial)
		return fmt.Errorf("failed to close standby file: %w", err)
	}
	if err := os.Rename(partial, standby); err != nil {
		_ = removeFile(partial)
		return fmt.Errorf("failed to stage standby file: %w", err)
	}
	return nil
}

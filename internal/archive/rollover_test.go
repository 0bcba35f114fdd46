package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

// pointsFrom returns n points of id one second apart starting at second from
func pointsFrom(id int32, from, n int) []models.DataPoint {
	points := linearPoints(id, from+n, identity)
	return points[from:]
}

func uncompressedOptions(dir string) Options {
	opts := testOptions(dir)
	opts.CompressData = false
	return opts
}

func TestArchiveFile_Rollover(t *testing.T) {
	store := newTestStore(t, 0, 1)
	obs := &recordingObserver{}
	opts := uncompressedOptions(t.TempDir())
	af := openTestArchive(t, opts, store, obs)

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	require.NoError(t, af.Rollover())

	start, end := tagAt(0), tagAt(8*time.Second)
	historic := HistoricFileName(opts.FileName, start, end)
	assert.FileExists(t, historic)
	assert.FileExists(t, opts.FileName)
	assert.Equal(t, end, af.Table().FileStart())
	assert.Equal(t, int32(0), af.Table().BlocksUsed())

	files, err := af.HistoricFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []HistoricFileInfo{{Path: historic, Start: start, End: end}}, files)

	ic, err := store.ReadIntercom(records.RolloverSlot)
	require.NoError(t, err)
	assert.False(t, ic.RolloverInProgress)
	assert.Equal(t, int32(0), ic.DataBlocksUsed)
	assert.Equal(t, int32(-1), ic.LatestDataID)

	st, err := store.ReadState(1)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), st.ActiveDataBlockIndex)

	started := obs.byKind(EventRolloverStart)
	completed := obs.byKind(EventRolloverComplete)
	require.Len(t, started, 1)
	require.Len(t, completed, 1)
	assert.NotEmpty(t, started[0].OperationID)
	assert.Equal(t, started[0].OperationID, completed[0].OperationID)

	// Writing continues in the new active file
	writeAndFlush(t, af, pointsFrom(1, 10, 10)...)
	assert.Equal(t, int32(1), af.Table().BlocksUsed())

	points := readAll(t, af, Query{IDs: []int32{1}})
	require.Len(t, points, 19)
	for i, p := range points {
		assert.Equal(t, float32(i), p.Value)
	}

	desc := readAll(t, af, Query{IDs: []int32{1}, Descending: true})
	require.Len(t, desc, 19)
	assert.Equal(t, float32(18), desc[0].Value)
	assert.Equal(t, float32(0), desc[18].Value)
}

func TestArchiveFile_RolloverWhenFull(t *testing.T) {
	store := newTestStore(t, 0, 1)
	obs := &recordingObserver{}
	opts := uncompressedOptions(t.TempDir())
	opts.FileSizeMB = 5.0 / 1024
	af := openTestArchive(t, opts, store, obs)

	writeAndFlush(t, af, pointsFrom(1, 0, 1000)...)

	assert.Equal(t, 1, obs.count(EventFileFull))
	assert.Equal(t, 1, obs.count(EventRolloverComplete))
	assert.Zero(t, obs.count(EventDataWriteException))

	files, err := af.HistoricFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, tagAt(0), files[0].Start)
	assert.Equal(t, tagAt(509*time.Second), files[0].End)

	points := readAll(t, af, Query{IDs: []int32{1}})
	require.Len(t, points, 999)
	for i, p := range points {
		require.Equal(t, float32(i), p.Value)
	}

	stats, err := af.Statistics()
	require.NoError(t, err)
	assert.Equal(t, int64(489), stats.PointsArchived)
	assert.Equal(t, 1, stats.HistoricFiles)
}

func TestArchiveFile_ReadContinuesAcrossRollover(t *testing.T) {
	store := newTestStore(t, 0, 1)
	opts := uncompressedOptions(t.TempDir())
	opts.FileSizeMB = 5.0 / 1024
	af := openTestArchive(t, opts, store, nil)

	points := pointsFrom(1, 0, 1000)
	writeAndFlush(t, af, points[:300]...)

	r, err := af.ReadData(context.Background(), Query{IDs: []int32{1}, End: models.MaxTimeTag})
	require.NoError(t, err)
	defer r.Close()

	var got []models.DataPoint
	for len(got) < 100 && r.Next() {
		got = append(got, r.Point())
	}
	require.Len(t, got, 100)

	// The rollover waits for the reader's drain timeout, then swaps the file
	writeAndFlush(t, af, points[300:]...)
	require.Equal(t, uint64(1), af.generation.Load())

	for r.Next() {
		got = append(got, r.Point())
	}
	require.NoError(t, r.Err())
	require.Len(t, got, 999)
	for i, p := range got {
		require.Equal(t, float32(i), p.Value, "position %d", i)
	}
}

func TestArchiveFile_ReadCursor(t *testing.T) {
	opts := uncompressedOptions(t.TempDir())
	af := openTestArchive(t, opts, newTestStore(t, 0, 1), nil)

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	require.NoError(t, af.Rollover())
	writeAndFlush(t, af, pointsFrom(1, 10, 10)...)

	r, err := af.ReadData(context.Background(), Query{IDs: []int32{1}, End: models.MaxTimeTag})
	require.NoError(t, err)
	defer r.Close()

	c := r.Cursor()
	assert.False(t, c.HasLast)
	require.Len(t, c.Remaining, 2)
	assert.Equal(t, opts.FileName, c.Remaining[1])

	require.True(t, r.Next())
	c = r.Cursor()
	assert.True(t, c.HasLast)
	assert.Equal(t, float32(0), c.Last.Value)
}

func TestArchiveFile_StandbyPreparedAndPromoted(t *testing.T) {
	store := newTestStore(t, 0, 1)
	obs := &recordingObserver{}
	opts := uncompressedOptions(t.TempDir())
	opts.FileSizeMB = 4.0 / 1024
	opts.RolloverPreparationThreshold = 50
	af := openTestArchive(t, opts, store, obs)

	standby := StandbyFileName(opts.FileName)
	writeAndFlush(t, af, pointsFrom(1, 0, 150)...)

	require.Eventually(t, func() bool {
		return obs.count(EventRolloverPreparationComplete) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, obs.count(EventRolloverPreparationStart))
	assert.FileExists(t, standby)
	assert.NoFileExists(t, standby+partialExtension)

	require.NoError(t, af.Rollover())
	assert.NoFileExists(t, standby)
	assert.Equal(t, int32(4), af.Table().BlockCount())
	assert.Equal(t, tagAt(148*time.Second), af.Table().FileStart())

	writeAndFlush(t, af, pointsFrom(1, 150, 10)...)
	assert.Len(t, readAll(t, af, Query{IDs: []int32{1}}), 159)
}

func TestArchiveFile_HistoricBackfill(t *testing.T) {
	store := newTestStore(t, 0, 1, 2)
	obs := &recordingObserver{}
	opts := uncompressedOptions(t.TempDir())
	opts.FileSizeMB = 1.0 / 1024
	af := openTestArchive(t, opts, store, obs)

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	require.NoError(t, af.Rollover())

	// Signal 2 lags behind the rollover; compression hands its archived
	// points to the historic file
	late := []models.DataPoint{
		models.NewDataPoint(2, models.NewTimeTag(testBase.Add(-time.Hour)), 9, models.QualityGood),
		models.NewDataPoint(2, models.NewTimeTag(testBase.Add(1500*time.Millisecond)), 1, models.QualityGood),
		models.NewDataPoint(2, models.NewTimeTag(testBase.Add(2500*time.Millisecond)), 2, models.QualityGood),
		models.NewDataPoint(2, models.NewTimeTag(testBase.Add(3500*time.Millisecond)), 3, models.QualityGood),
		models.NewDataPoint(2, models.NewTimeTag(testBase.Add(8500*time.Millisecond)), 4, models.QualityGood),
	}
	writeAndFlush(t, af, late...)

	// The point older than every historic file has nowhere to go
	events := obs.byKind(EventDataWriteException)
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, ErrNoHistoricFile)

	points := readAll(t, af, Query{IDs: []int32{2}})
	require.Len(t, points, 3)
	assert.Equal(t, []float32{1, 2, 3}, []float32{points[0].Value, points[1].Value, points[2].Value})

	files, err := af.HistoricFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	fat, err := loadTable(files[0].Path, true, false)
	require.NoError(t, err)
	defer fat.Close()
	assert.Equal(t, int32(2), fat.BlockCount())
	assert.Equal(t, []int32{1, 2}, fat.HistorianIDs())
	assert.Equal(t, int64(13), fat.PointsReceived())

	// Signal 1 is untouched
	assert.Len(t, readAll(t, af, Query{IDs: []int32{1}}), 9)
}

func TestArchiveFile_LaggingPointsGoThroughCurrentPipeline(t *testing.T) {
	store := newTestStore(t, 0, 1, 2)
	obs := &recordingObserver{}
	af := openTestArchive(t, uncompressedOptions(t.TempDir()), store, obs)

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	require.NoError(t, af.Rollover())
	require.Equal(t, tagAt(8*time.Second), af.Table().FileStart())

	// Unconfigured id older than the active file
	writeAndFlush(t, af, models.NewDataPoint(999, tagAt(4*time.Second), 1, models.QualityGood))
	assert.Equal(t, 1, obs.count(EventOrphanData))
	assert.Empty(t, readAll(t, af, Query{IDs: []int32{999}}))

	// Unset quality is classified and the repeated point is dropped
	writeAndFlush(t, af,
		models.NewDataPoint(2, tagAt(4*time.Second), 5, models.QualityUnknown),
		models.NewDataPoint(2, tagAt(4*time.Second), 5, models.QualityUnknown),
		models.NewDataPoint(2, tagAt(5*time.Second), 6, models.QualityUnknown),
		models.NewDataPoint(2, tagAt(9*time.Second), 7, models.QualityUnknown),
	)
	assert.Zero(t, obs.count(EventOutOfSequenceData))
	assert.Zero(t, obs.count(EventDataWriteException))

	points := readAll(t, af, Query{IDs: []int32{2}})
	require.Len(t, points, 2)
	assert.Equal(t, []models.TimeTag{tagAt(4 * time.Second), tagAt(5 * time.Second)}, timesOf(points))
	for _, p := range points {
		assert.Equal(t, models.QualityGood, p.Quality)
	}

	// Both landed in the historic file, not the active one
	files, err := af.HistoricFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	fat, err := loadTable(files[0].Path, true, false)
	require.NoError(t, err)
	defer fat.Close()
	assert.Equal(t, []int32{1, 2}, fat.HistorianIDs())
	assert.Nil(t, af.Table().FindLastDataBlock(2))

	st, err := store.ReadState(2)
	require.NoError(t, err)
	assert.Equal(t, tagAt(5*time.Second), st.ArchivedData.Time)
	assert.Equal(t, tagAt(9*time.Second), st.PreviousData.Time)
}

func TestArchiveFile_LatestDataAfterRollover(t *testing.T) {
	store := newTestStore(t, 0, 1, 2)
	af := openTestArchive(t, uncompressedOptions(t.TempDir()), store, nil)

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	writeAndFlush(t, af, pointsFrom(2, 0, 3)...)
	require.NoError(t, af.Rollover())

	ic, err := store.ReadIntercom(records.RolloverSlot)
	require.NoError(t, err)
	require.Equal(t, int32(-1), ic.LatestDataID)

	// Older than the newest point before the rollover, newer than the reset mark
	late := af.Table().FileStart().Add(500 * time.Millisecond)
	writeAndFlush(t, af, models.NewDataPoint(2, late, 1, models.QualityGood))

	ic, err = store.ReadIntercom(records.RolloverSlot)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ic.LatestDataID)
	assert.Equal(t, late, ic.LatestDataTime)
}

func TestArchiveFile_ReadIncludesFileRolledBeforeLiveScan(t *testing.T) {
	af := openTestArchive(t, uncompressedOptions(t.TempDir()), newTestStore(t, 0, 1), nil)

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	require.NoError(t, af.Rollover())
	writeAndFlush(t, af, pointsFrom(1, 10, 10)...)

	r, err := af.ReadData(context.Background(), Query{IDs: []int32{1}, End: models.MaxTimeTag})
	require.NoError(t, err)
	defer r.Close()

	// Still in the first historic file when the active file rolls
	require.True(t, r.Next())
	got := []float32{r.Point().Value}
	require.NoError(t, af.Rollover())

	for r.Next() {
		got = append(got, r.Point().Value)
	}
	require.NoError(t, r.Err())
	require.Len(t, got, 19)
	for i, v := range got {
		require.Equal(t, float32(i), v, "position %d", i)
	}
}

func TestArchiveFile_DescendingReadIncludesFileRolledBeforeStart(t *testing.T) {
	af := openTestArchive(t, uncompressedOptions(t.TempDir()), newTestStore(t, 0, 1), nil)

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	require.NoError(t, af.Rollover())
	writeAndFlush(t, af, pointsFrom(1, 10, 10)...)

	r, err := af.ReadData(context.Background(), Query{IDs: []int32{1}, End: models.MaxTimeTag, Descending: true})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, af.Rollover())

	points, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, points, 19)
	for i, p := range points {
		require.Equal(t, float32(18-i), p.Value, "position %d", i)
	}
}

// failingIntercom refuses to record a rollover
type failingIntercom struct {
	*records.MemoryStore
}

func (f failingIntercom) WriteIntercom(slot int, rec models.IntercomRecord) error {
	if rec.RolloverInProgress {
		return errors.New("intercom unavailable")
	}
	return f.MemoryStore.WriteIntercom(slot, rec)
}

func TestArchiveFile_RolloverFailureKeepsFile(t *testing.T) {
	store := newTestStore(t, 0, 1)
	obs := &recordingObserver{}
	opts := uncompressedOptions(t.TempDir())

	af, err := New(opts, Dependencies{States: store, Metadata: store, Intercom: failingIntercom{store}, Observer: obs})
	require.NoError(t, err)
	require.NoError(t, af.Open())
	defer af.Close()

	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)

	err = af.Rollover()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollover failed")
	assert.Equal(t, 1, obs.count(EventRolloverException))
	assert.Zero(t, obs.count(EventRolloverComplete))

	assert.True(t, af.IsOpen())
	assert.False(t, af.gate.IsShut())
	assert.False(t, af.rollingOver.Load())
	assert.Equal(t, uint64(0), af.generation.Load())

	matches, err := filepath.Glob(historicFilePattern(opts.FileName, filepath.Dir(opts.FileName)))
	require.NoError(t, err)
	assert.Empty(t, matches)

	writeAndFlush(t, af, pointsFrom(1, 10, 5)...)
	assert.Len(t, readAll(t, af, Query{IDs: []int32{1}}), 14)
}

func TestArchiveFile_HistoricListBuiltOnOpen(t *testing.T) {
	store := newTestStore(t, 0, 1)
	opts := uncompressedOptions(t.TempDir())

	af, err := New(opts, Dependencies{States: store, Metadata: store, Intercom: store})
	require.NoError(t, err)
	require.NoError(t, af.Open())
	writeAndFlush(t, af, pointsFrom(1, 0, 10)...)
	require.NoError(t, af.Rollover())
	writeAndFlush(t, af, pointsFrom(1, 10, 10)...)
	require.NoError(t, af.Rollover())
	require.NoError(t, af.Close())

	// A stray file matching the pattern that is not an archive is reported
	stray := HistoricFileName(opts.FileName, tagAt(time.Hour), tagAt(2*time.Hour))
	require.NoError(t, os.WriteFile(stray, []byte("junk"), 0o644))

	obs := &recordingObserver{}
	reopened := openTestArchive(t, opts, store, obs)
	files, err := reopened.HistoricFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.True(t, files[0].Start < files[1].Start)
	assert.Equal(t, 1, obs.count(EventHistoricFileListBuildException))
	assert.Equal(t, 1, obs.count(EventHistoricFileListBuildComplete))

	assert.Len(t, readAll(t, reopened, Query{IDs: []int32{1}}), 19)
}

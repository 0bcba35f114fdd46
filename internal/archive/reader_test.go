package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

func openTestReader(t *testing.T, opts Options, intercom records.IntercomStore, obs Observer) *ArchiveReader {
	t.Helper()
	opts.RolloverWatchInterval = 10 * time.Millisecond
	r, err := NewArchiveReader(opts, intercom, obs, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, r.Open())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func readerPoints(t *testing.T, r *ArchiveReader) []models.DataPoint {
	t.Helper()
	dr, err := r.ReadData(context.Background(), Query{IDs: []int32{1}, End: models.MaxTimeTag})
	require.NoError(t, err)
	points, err := dr.ReadAll()
	require.NoError(t, err)
	return points
}

func TestArchiveReader_FollowsWriterRollover(t *testing.T) {
	store := newTestStore(t, 0, 1)
	opts := uncompressedOptions(t.TempDir())
	writer := openTestArchive(t, opts, store, nil)
	writeAndFlush(t, writer, pointsFrom(1, 0, 20)...)

	reader := openTestReader(t, opts, store, nil)
	assert.Len(t, readerPoints(t, reader), 19)
	assert.ErrorIs(t, reader.File().WriteData(pointsFrom(1, 20, 1)...), ErrReadOnly)

	require.NoError(t, writer.Rollover())
	require.Eventually(t, func() bool {
		return reader.File().generation.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	files, err := reader.File().HistoricFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, tagAt(18*time.Second), files[0].End)

	writeAndFlush(t, writer, pointsFrom(1, 20, 10)...)
	points := readerPoints(t, reader)
	require.Len(t, points, 29)
	for i, p := range points {
		assert.Equal(t, float32(i), p.Value)
	}
}

func TestArchiveReader_GateFollowsIntercomFlag(t *testing.T) {
	store := newTestStore(t, 0, 1)
	opts := uncompressedOptions(t.TempDir())
	writer := openTestArchive(t, opts, store, nil)
	writeAndFlush(t, writer, pointsFrom(1, 0, 5)...)

	obs := &recordingObserver{}
	reader := openTestReader(t, opts, store, obs)
	af := reader.File()

	require.NoError(t, store.WriteIntercom(records.RolloverSlot, models.IntercomRecord{RolloverInProgress: true}))
	require.Eventually(t, af.gate.IsShut, 5*time.Second, 5*time.Millisecond)
	assert.True(t, af.rollingOver.Load())
	assert.Equal(t, 1, obs.count(EventRolloverStart))

	// Reads wait for the rollover to finish
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	dr, err := af.ReadData(ctx, Query{IDs: []int32{1}, End: models.MaxTimeTag})
	require.NoError(t, err)
	assert.False(t, dr.Next())
	assert.ErrorIs(t, dr.Err(), context.DeadlineExceeded)

	require.NoError(t, store.WriteIntercom(records.RolloverSlot, models.IntercomRecord{}))
	require.Eventually(t, func() bool {
		return !af.gate.IsShut() && af.generation.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, af.rollingOver.Load())
	assert.Equal(t, 1, obs.count(EventRolloverComplete))

	assert.Len(t, readerPoints(t, reader), 4)
}

func TestArchiveReader_ReadSpanningWriterRollover(t *testing.T) {
	store := newTestStore(t, 0, 1)
	opts := uncompressedOptions(t.TempDir())
	writer := openTestArchive(t, opts, store, nil)
	writeAndFlush(t, writer, pointsFrom(1, 0, 300)...)

	reader := openTestReader(t, opts, store, nil)
	dr, err := reader.ReadData(context.Background(), Query{IDs: []int32{1}, End: models.MaxTimeTag})
	require.NoError(t, err)
	defer dr.Close()

	var got []models.DataPoint
	for len(got) < 50 && dr.Next() {
		got = append(got, dr.Point())
	}
	require.Len(t, got, 50)

	writeAndFlush(t, writer, pointsFrom(1, 300, 10)...)
	require.NoError(t, writer.Rollover())
	require.Eventually(t, func() bool {
		return reader.File().generation.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	for dr.Next() {
		got = append(got, dr.Point())
	}
	require.NoError(t, dr.Err())
	require.Len(t, got, 309)
	for i, p := range got {
		require.Equal(t, float32(i), p.Value, "position %d", i)
	}
}

func TestArchiveReader_OpenMissingFile(t *testing.T) {
	opts := uncompressedOptions(t.TempDir())
	r, err := NewArchiveReader(opts, records.NewMemoryStore(), nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Open(), ErrFileNotOpen)
}

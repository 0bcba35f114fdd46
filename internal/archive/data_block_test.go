package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/historian/internal/models"
)

func TestDataBlock_Capacity(t *testing.T) {
	for _, kb := range []int{1, 2, 3, 8, 16} {
		fat := newTestTable(t, kb, 2)
		b, err := fat.RequestDataBlock(1, models.NewTimeTag(testBase), -1)
		require.NoError(t, err)

		want := kb * 1024 / 10
		assert.Equal(t, want, b.Capacity(), "block size %d KB", kb)
		assert.Equal(t, want, b.SlotsAvailable())
		assert.Equal(t, int64(0), b.Location())
	}
}

func TestDataBlock_FillsExactly(t *testing.T) {
	fat := newTestTable(t, 1, 4)
	b, err := fat.RequestDataBlock(1, models.NewTimeTag(testBase), -1)
	require.NoError(t, err)

	points := linearPoints(1, 103, identity)
	for _, p := range points[:102] {
		p.Quality = models.QualityGood
		require.NoError(t, b.Write(p))
	}
	assert.Equal(t, 102, b.SlotsUsed())
	assert.Equal(t, 0, b.SlotsAvailable())

	err = b.Write(points[102])
	assert.ErrorIs(t, err, ErrBlockFull)

	read, err := b.Read()
	require.NoError(t, err)
	require.Len(t, read, 102)
	assert.Equal(t, points[101].Time, read[101].Time)
}

func TestDataBlock_BadTimestamp(t *testing.T) {
	fat := newTestTable(t, 1, 2)
	b, err := fat.RequestDataBlock(1, models.NewTimeTag(testBase), -1)
	require.NoError(t, err)

	p := models.NewDataPoint(1, models.NewTimeTag(time.Date(2064, 1, 1, 0, 0, 0, 0, time.UTC)), 1, models.QualityGood)
	assert.ErrorIs(t, b.Write(p), ErrBadTimestamp)
	assert.Equal(t, 0, b.SlotsUsed())
}

func TestDataBlock_ResetAndRescan(t *testing.T) {
	fat := newTestTable(t, 1, 2)
	b, err := fat.RequestDataBlock(7, models.NewTimeTag(testBase), -1)
	require.NoError(t, err)

	for _, p := range linearPoints(7, 10, identity) {
		p.Quality = models.QualityGood
		require.NoError(t, b.Write(p))
	}

	// A fresh handle learns its cursor by scanning
	fresh := newDataBlock(fat.stream, b.Index(), 7, 1, true)
	assert.Equal(t, 10, fresh.SlotsUsed())

	require.NoError(t, fresh.Reset())
	points, err := b.Read()
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.Equal(t, 0, b.SlotsUsed())
}

func TestDataBlock_ReadStopsAtEmptyPoint(t *testing.T) {
	fat := newTestTable(t, 1, 2)
	b, err := fat.RequestDataBlock(1, models.NewTimeTag(testBase), -1)
	require.NoError(t, err)

	require.NoError(t, b.Write(models.NewDataPoint(1, models.NewTimeTag(testBase), 1, models.QualityGood)))

	// Write a point past a gap; the gap ends the used range
	fat.stream.mu.Lock()
	p := models.NewDataPoint(1, models.NewTimeTag(testBase.Add(time.Minute)), 2, models.QualityGood)
	require.NoError(t, fat.stream.writeAt(p.Encode(), b.Location()+2*models.DataPointBinaryLength))
	fat.stream.mu.Unlock()

	points, err := b.Read()
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestDataBlock_IsActive(t *testing.T) {
	fat := newTestTable(t, 1, 2)
	b, err := fat.RequestDataBlock(1, models.NewTimeTag(testBase), -1)
	require.NoError(t, err)

	assert.True(t, b.IsActive(time.Minute))
	b.lastActivity.Store(time.Now().Add(-10 * time.Minute).UnixNano())
	assert.False(t, b.IsActive(5*time.Minute))
}

package records

import (
	"path/filepath"
	"testing"

	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateMetadataStore interface {
	StateStore
	MetadataStore
}

func newTestStores(t *testing.T) map[string]stateMetadataStore {
	t.Helper()

	bs, err := OpenBadgerStore(BadgerConfig{InMemory: true}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return map[string]stateMetadataStore{
		"memory": NewMemoryStore(),
		"badger": bs,
	}
}

func TestStores_StateRoundTrip(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.ReadState(3)
			assert.ErrorIs(t, err, ErrNotFound)

			state := models.NewStateRecord(3)
			state.ArchivedData = models.NewDataPoint(3, models.TimeTagFromMillis(800_000_000_500), 12.5, models.QualityGood)
			state.Slope1 = -0.25
			state.Slope2 = 0.75
			state.ActiveDataBlockIndex = 4
			state.ActiveDataBlockSlot = 17

			require.NoError(t, store.WriteState(3, state))
			require.NoError(t, store.WriteState(1, models.NewStateRecord(1)))
			require.NoError(t, store.WriteState(20, models.NewStateRecord(20)))

			got, err := store.ReadState(3)
			require.NoError(t, err)
			assert.Equal(t, state, got)

			ids, err := store.StateIDs()
			require.NoError(t, err)
			assert.Equal(t, []int32{1, 3, 20}, ids)
		})
	}
}

func TestStores_MetadataRoundTrip(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.ReadMetadata(9)
			assert.ErrorIs(t, err, ErrNotFound)

			rec := models.NewDigitalMetadata(9, "breaker", 1)
			rec.AlarmEnabled = true
			require.NoError(t, store.WriteMetadata(9, rec))

			got, err := store.ReadMetadata(9)
			require.NoError(t, err)
			assert.Equal(t, rec, got)

			bad := models.MetadataRecord{HistorianID: 10, DataType: models.DataTypeAnalog}
			assert.Error(t, store.WriteMetadata(10, bad))
		})
	}
}

func TestMemoryStore_Intercom(t *testing.T) {
	store := NewMemoryStore()

	rec, err := store.ReadIntercom(RolloverSlot)
	require.NoError(t, err)
	assert.Equal(t, models.IntercomRecord{}, rec)

	want := models.IntercomRecord{RolloverInProgress: true, DataBlocksUsed: 3}
	require.NoError(t, store.WriteIntercom(RolloverSlot, want))

	rec, err = store.ReadIntercom(RolloverSlot)
	require.NoError(t, err)
	assert.Equal(t, want, rec)

	assert.Error(t, store.WriteIntercom(0, want))
}

func TestIntercomFile_SharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ic", "intercom.dat")

	writer, err := OpenIntercomFile(path, false)
	require.NoError(t, err)
	defer writer.Close()

	// Fresh file reads as zero records.
	rec, err := writer.ReadIntercom(RolloverSlot)
	require.NoError(t, err)
	assert.Equal(t, models.IntercomRecord{}, rec)

	reader, err := OpenIntercomFile(path, true)
	require.NoError(t, err)
	defer reader.Close()

	want := models.IntercomRecord{
		RolloverInProgress: true,
		DataBlocksUsed:     12,
		LatestDataID:       7,
		LatestDataTime:     models.TimeTagFromMillis(790_000_000_001),
	}
	require.NoError(t, writer.WriteIntercom(RolloverSlot, want))
	require.NoError(t, writer.WriteIntercom(3, models.IntercomRecord{DataBlocksUsed: 1}))

	got, err := reader.ReadIntercom(RolloverSlot)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = reader.ReadIntercom(3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.DataBlocksUsed)

	// Slot 2 lies inside the file but was never written.
	got, err = reader.ReadIntercom(2)
	require.NoError(t, err)
	assert.Equal(t, models.IntercomRecord{}, got)

	assert.Error(t, reader.WriteIntercom(RolloverSlot, want))
}

func TestOpenIntercomFile_ReadOnlyMissing(t *testing.T) {
	_, err := OpenIntercomFile(filepath.Join(t.TempDir(), "missing.dat"), true)
	assert.Error(t, err)
}

package archive

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soltixdb/historian/internal/logging"
	"github.com/soltixdb/historian/internal/models"
	"github.com/soltixdb/historian/internal/records"
)

var testBase = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// recordingObserver collects events for assertions
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnEvent(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) byKind(kind EventKind) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Event
	for _, ev := range o.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (o *recordingObserver) count(kind EventKind) int {
	return len(o.byKind(kind))
}

func testOptions(dir string) Options {
	opts := DefaultOptions(filepath.Join(dir, "archive.d"))
	opts.FileSizeMB = 64.0 / 1024
	opts.DataBlockSizeKB = 1
	opts.RolloverPreparationThreshold = 95
	opts.ConserveMemory = false
	opts.ReaderDrainTimeout = 100 * time.Millisecond
	opts.Now = func() time.Time { return testBase.Add(24 * time.Hour) }
	return opts
}

// newTestStore returns a store with an analog signal per id
func newTestStore(t *testing.T, limit float32, ids ...int32) *records.MemoryStore {
	t.Helper()
	store := records.NewMemoryStore()
	for _, id := range ids {
		require.NoError(t, store.WriteMetadata(id, models.NewAnalogMetadata(id, "signal", limit)))
	}
	return store
}

func openTestArchive(t *testing.T, opts Options, store *records.MemoryStore, obs Observer) *ArchiveFile {
	t.Helper()
	af, err := New(opts, Dependencies{
		States:   store,
		Metadata: store,
		Intercom: store,
		Observer: obs,
		Logger:   logging.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, af.Open())
	t.Cleanup(func() { _ = af.Close() })
	return af
}

// linearPoints returns n points one second apart with value(i)
func linearPoints(id int32, n int, value func(i int) float32) []models.DataPoint {
	points := make([]models.DataPoint, n)
	for i := range points {
		points[i] = models.NewDataPoint(id, models.NewTimeTag(testBase.Add(time.Duration(i)*time.Second)), value(i), models.QualityUnknown)
	}
	return points
}

func identity(i int) float32 { return float32(i) }

func timesOf(points []models.DataPoint) []models.TimeTag {
	out := make([]models.TimeTag, len(points))
	for i, p := range points {
		out[i] = p.Time
	}
	return out
}

func newTestTable(t *testing.T, blockSizeKB int, blocks int32) *AllocationTable {
	t.Helper()
	fat, err := createTable(filepath.Join(t.TempDir(), "table.d"), blockSizeKB, blocks, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fat.Close() })
	return fat
}

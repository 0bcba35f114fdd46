package archive

import (
	"sort"

	"github.com/soltixdb/historian/internal/models"
)

// ScanOptions controls a file scan
type ScanOptions struct {
	Descending bool

	// ResumeFrom is the last point already returned by an interrupted scan.
	// The scan continues just after it.
	ResumeFrom *models.DataPoint

	OnError func(error)
}

func sortedIDs(ids []int32) []int32 {
	out := append([]int32(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FileScanner returns the points of several historian ids from one file, one
// id after another in ascending id order. Points of each id are in time order.
type FileScanner struct {
	scanners []*DataPointScanner
	current  int
}

// NewFileScanner creates an id-by-id scanner over [start, end]. When resuming,
// ids before the resume point's id are skipped and the resume id continues
// after the resume point's time.
func NewFileScanner(fat *AllocationTable, ids []int32, start, end models.TimeTag, opts ScanOptions) *FileScanner {
	fs := &FileScanner{}
	for _, id := range sortedIDs(ids) {
		s, e, include := start, end, true
		if r := opts.ResumeFrom; r != nil {
			if id < r.HistorianID {
				continue
			}
			if id == r.HistorianID {
				include = false
				if opts.Descending {
					e = r.Time
				} else {
					s = r.Time
				}
			}
		}
		fs.scanners = append(fs.scanners, NewDataPointScanner(fat, id, s, e, include, opts.Descending, opts.OnError))
	}
	return fs
}

// Next returns the next point
func (fs *FileScanner) Next() (models.DataPoint, bool) {
	for fs.current < len(fs.scanners) {
		if p, ok := fs.scanners[fs.current].Next(); ok {
			return p, true
		}
		fs.current++
	}
	return models.DataPoint{}, false
}

// TimeSortedFileScanner merges the points of several historian ids from one
// file into a single time-ordered sequence. Points sharing a timestamp are
// returned together, in ascending id order, before the merge advances.
type TimeSortedFileScanner struct {
	scanners   []*DataPointScanner // ascending id order
	heads      []models.DataPoint
	live       []bool
	descending bool
	pending    []models.DataPoint
}

// NewTimeSortedFileScanner creates a merging scanner over [start, end]. When
// resuming from point r, ids up to r's id continue after r's time and the
// remaining ids include it, which returns every tied point exactly once.
func NewTimeSortedFileScanner(fat *AllocationTable, ids []int32, start, end models.TimeTag, opts ScanOptions) *TimeSortedFileScanner {
	ts := &TimeSortedFileScanner{descending: opts.Descending}
	for _, id := range sortedIDs(ids) {
		s, e, include := start, end, true
		if r := opts.ResumeFrom; r != nil {
			include = id > r.HistorianID
			if opts.Descending {
				e = r.Time
			} else {
				s = r.Time
			}
		}
		if s > e {
			continue
		}
		sc := NewDataPointScanner(fat, id, s, e, include, opts.Descending, opts.OnError)
		head, ok := sc.Next()
		ts.scanners = append(ts.scanners, sc)
		ts.heads = append(ts.heads, head)
		ts.live = append(ts.live, ok)
	}
	return ts
}

func (ts *TimeSortedFileScanner) better(a, b models.TimeTag) bool {
	if ts.descending {
		return a > b
	}
	return a < b
}

// Next returns the next point in time order
func (ts *TimeSortedFileScanner) Next() (models.DataPoint, bool) {
	if len(ts.pending) == 0 {
		ts.fill()
	}
	if len(ts.pending) == 0 {
		return models.DataPoint{}, false
	}
	p := ts.pending[0]
	ts.pending = ts.pending[1:]
	return p, true
}

// fill collects every head tied at the extreme time and advances those scanners
func (ts *TimeSortedFileScanner) fill() {
	found := false
	var extreme models.TimeTag
	for i, ok := range ts.live {
		if ok && (!found || ts.better(ts.heads[i].Time, extreme)) {
			extreme = ts.heads[i].Time
			found = true
		}
	}
	if !found {
		return
	}

	for i, ok := range ts.live {
		if !ok || ts.heads[i].Time != extreme {
			continue
		}
		ts.pending = append(ts.pending, ts.heads[i])
		ts.heads[i], ts.live[i] = ts.scanners[i].Next()
	}
}

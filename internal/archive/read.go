package archive

import (
	"context"
	"fmt"

	"github.com/soltixdb/historian/internal/models"
)

// Query selects the points returned by ReadData
type Query struct {
	IDs        []int32
	Start      models.TimeTag
	End        models.TimeTag
	TimeSorted bool // merge ids into one time-ordered sequence
	Descending bool // newest first; also implied by Start > End
}

type readTarget struct {
	path string // historic file; empty for the file itself
	live bool
}

// ReadCursor is the position of a DataReader: the last point returned and
// the files still to be scanned
type ReadCursor struct {
	Last      models.DataPoint
	HasLast   bool
	Remaining []string
}

// DataReader iterates the points of a query across the historic files and
// the active file. A rollover of the active file while it is being read is
// detected before every step; the reader then waits for the rollover to
// finish and continues in the rolled file just after the last point returned.
type DataReader struct {
	af         *ArchiveFile
	ctx        context.Context
	ids        []int32
	start      models.TimeTag
	end        models.TimeTag
	sorted     bool
	descending bool

	work    []readTarget
	iter    pointIterator
	table   *AllocationTable // opened historic file
	holding bool             // registered as a reader of the live file
	gen     uint64           // generation the work list accounts for
	planned map[string]bool  // historic files already in the work list

	last      models.DataPoint
	hasLast   bool
	emitted   bool // a point was returned from the current target
	resumeNow bool // apply last as the resume point to the next target

	point  models.DataPoint
	err    error
	closed bool
}

// ReadData starts a query. Historic files are included when the range starts
// before the active file; the active file when the range reaches it.
func (af *ArchiveFile) ReadData(ctx context.Context, q Query) (*DataReader, error) {
	// Rollovers from here on are picked up when the live target opens
	gen := af.generation.Load()
	fat := af.table()
	if fat == nil {
		return nil, ErrFileNotOpen
	}
	if len(q.IDs) == 0 {
		return nil, fmt.Errorf("query needs at least one historian id")
	}

	start, end, descending := q.Start, q.End, q.Descending
	if start > end {
		start, end = end, start
		descending = true
	}

	r := &DataReader{
		af:         af,
		ctx:        ctx,
		ids:        sortedIDs(q.IDs),
		start:      start,
		end:        end,
		sorted:     q.TimeSorted,
		descending: descending,
		gen:        gen,
		planned:    make(map[string]bool),
	}

	if af.fileType != FileTypeActive {
		r.work = []readTarget{{live: true}}
		return r, nil
	}

	fileStart := fat.FileStart()
	if start < fileStart {
		if err := af.waitHistoricList(ctx); err != nil {
			return nil, err
		}
		af.historicMu.RLock()
		for _, h := range af.historic {
			if h.overlaps(start, end) {
				r.work = append(r.work, readTarget{path: h.Path})
				r.planned[h.Path] = true
			}
		}
		af.historicMu.RUnlock()
	}
	if end >= fileStart {
		r.work = append(r.work, readTarget{live: true})
	}
	if descending {
		reverseTargets(r.work)
	}
	return r, nil
}

func reverseTargets(t []readTarget) {
	for i, j := 0, len(t)-1; i < j; i, j = i+1, j-1 {
		t[i], t[j] = t[j], t[i]
	}
}

// Next advances to the next point
func (r *DataReader) Next() bool {
	for {
		if r.err != nil || r.closed {
			return false
		}

		if r.iter == nil {
			if len(r.work) == 0 {
				return false
			}
			r.planMissedRollovers()
			skip, err := r.openTarget(r.work[0])
			if err != nil {
				r.err = err
				r.closeTarget()
				return false
			}
			if skip {
				r.work = r.work[1:]
				continue
			}
		}

		if r.interrupted() {
			if err := r.resume(); err != nil {
				r.err = err
				return false
			}
			continue
		}

		p, ok := r.iter.Next()
		if !ok {
			// A scan cut short by a rollover resumes instead of ending
			if r.interrupted() {
				if err := r.resume(); err != nil {
					r.err = err
					return false
				}
				continue
			}
			r.closeTarget()
			r.work = r.work[1:]
			continue
		}

		r.point = p
		r.last, r.hasLast, r.emitted = p, true, true
		return true
	}
}

// Point returns the current point
func (r *DataReader) Point() models.DataPoint { return r.point }

// Err returns the error that stopped the reader
func (r *DataReader) Err() error { return r.err }

// Cursor returns the reader's current position
func (r *DataReader) Cursor() ReadCursor {
	c := ReadCursor{Last: r.last, HasLast: r.hasLast}
	for _, t := range r.work {
		if t.live {
			c.Remaining = append(c.Remaining, r.af.opts.FileName)
		} else {
			c.Remaining = append(c.Remaining, t.path)
		}
	}
	return c
}

// Close releases the reader
func (r *DataReader) Close() error {
	r.closeTarget()
	r.closed = true
	return nil
}

// ReadAll drains the reader
func (r *DataReader) ReadAll() ([]models.DataPoint, error) {
	defer r.Close()

	var points []models.DataPoint
	for r.Next() {
		points = append(points, r.Point())
	}
	return points, r.Err()
}

func (r *DataReader) guarded(t readTarget) bool {
	return t.live && r.af.fileType == FileTypeActive
}

func (r *DataReader) openTarget(t readTarget) (skip bool, err error) {
	opts := ScanOptions{
		Descending: r.descending,
		OnError: func(err error) {
			r.af.events.notify(Event{Kind: EventDataReadException, FileName: t.path, Err: err})
		},
	}
	if r.resumeNow {
		last := r.last
		opts.ResumeFrom = &last
	}

	var fat *AllocationTable
	if t.live {
		if r.guarded(t) {
			if err := r.af.gate.EnterReader(r.ctx); err != nil {
				return false, err
			}
			r.holding = true
		}
		fat = r.af.table()
		if fat == nil {
			return false, ErrFileNotOpen
		}
		if r.af.opts.AccessMode == ReadOnly && r.guarded(t) {
			if err := fat.Reload(); err != nil {
				return false, fmt.Errorf("failed to refresh allocation table: %w", err)
			}
		}
		if r.guarded(t) && r.end < fat.FileStart() {
			r.closeTarget()
			return true, nil
		}
	} else {
		fat, err = loadTable(t.path, true, false)
		if err != nil {
			r.af.events.notify(Event{Kind: EventDataReadException, FileName: t.path, Err: err})
			return true, nil
		}
		r.table = fat
	}

	if r.sorted {
		r.iter = NewTimeSortedFileScanner(fat, r.ids, r.start, r.end, opts)
	} else {
		r.iter = NewFileScanner(fat, r.ids, r.start, r.end, opts)
	}
	r.emitted = false
	r.resumeNow = false
	return false, nil
}

// planMissedRollovers adds the files rolled since the work list was last
// brought up to date, before the live target is opened. Without them the live
// target would open the new active file and skip what the old one held.
func (r *DataReader) planMissedRollovers() {
	t := r.work[0]
	if !r.guarded(t) {
		return
	}
	current := r.af.generation.Load()
	if current == r.gen {
		return
	}

	var missed []readTarget
	for g := r.gen; g < current; g++ {
		info, ok := r.af.rolledFile(g)
		if !ok || r.planned[info.Path] || !info.overlaps(r.start, r.end) {
			continue
		}
		missed = append(missed, readTarget{path: info.Path})
		r.planned[info.Path] = true
	}
	r.gen = current
	if len(missed) == 0 {
		return
	}

	r.af.logger.Debug("Adding files rolled before the live scan",
		"files", len(missed),
		"to_generation", current)

	if r.descending {
		// Newest first: the live file, then the rolled files newest to oldest
		reverseTargets(missed)
		rest := append(missed, r.work[1:]...)
		r.work = append([]readTarget{t}, rest...)
		return
	}
	r.work = append(missed, r.work...)
}

func (r *DataReader) interrupted() bool {
	if !r.holding {
		return false
	}
	return r.af.rollingOver.Load() || r.af.generation.Load() != r.gen
}

// resume waits for the rollover that interrupted the live scan and replaces
// the live target with the file it produced
func (r *DataReader) resume() error {
	gen := r.gen
	resumeFrom := r.emitted
	r.closeTarget()

	if err := r.af.gate.Wait(r.ctx); err != nil {
		return err
	}

	var replacement []readTarget
	current := r.af.generation.Load()
	for g := gen; g < current; g++ {
		info, ok := r.af.rolledFile(g)
		if !ok || r.planned[info.Path] {
			continue
		}
		if g == gen || (!r.descending && info.overlaps(r.start, r.end)) {
			replacement = append(replacement, readTarget{path: info.Path})
			r.planned[info.Path] = true
		}
		if r.descending {
			// Files rolled later only hold points newer than the query
			break
		}
	}
	if len(replacement) == 0 {
		// The rollover failed or the file was reopened in place
		replacement = append(replacement, readTarget{live: true})
	} else if !r.descending {
		replacement = append(replacement, readTarget{live: true})
	}

	r.af.logger.Debug("Resuming read after rollover",
		"from_generation", gen,
		"to_generation", current,
		"has_last", r.hasLast)

	r.work = append(replacement, r.work[1:]...)
	r.gen = current
	r.resumeNow = resumeFrom
	return nil
}

func (r *DataReader) closeTarget() {
	if r.holding {
		r.af.gate.ExitReader()
		r.holding = false
	}
	if r.table != nil {
		r.table.Close()
		r.table = nil
	}
	r.iter = nil
}

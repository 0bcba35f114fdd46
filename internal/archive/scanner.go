package archive

import (
	"github.com/soltixdb/historian/internal/models"
)

// pointIterator yields data points one at a time
type pointIterator interface {
	Next() (models.DataPoint, bool)
}

// DataPointScanner reads the points of one historian id within a time window
// from one archive file. Blocks are resolved when the scanner is created and
// read lazily, one block at a time.
type DataPointScanner struct {
	historianID int32
	start       models.TimeTag
	end         models.TimeTag
	includeEdge bool // include points on the edge the scan starts from
	descending  bool
	blocks      []*DataBlock
	onError     func(error)

	next   int // next block to load
	buf    []models.DataPoint
	pos    int
	loaded bool
}

// NewDataPointScanner creates a scanner over [start, end]. includeEdge
// controls whether a point exactly on the starting edge (start when
// ascending, end when descending) is returned; resumed scans pass false.
// Read failures go to onError and end the scan of that block.
func NewDataPointScanner(fat *AllocationTable, historianID int32, start, end models.TimeTag, includeEdge, descending bool, onError func(error)) *DataPointScanner {
	blocks := fat.FindDataBlocks(historianID, start, end, false)
	if descending {
		for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
			blocks[i], blocks[j] = blocks[j], blocks[i]
		}
	}
	return &DataPointScanner{
		historianID: historianID,
		start:       start,
		end:         end,
		includeEdge: includeEdge,
		descending:  descending,
		blocks:      blocks,
		onError:     onError,
	}
}

// HistorianID returns the id being scanned
func (s *DataPointScanner) HistorianID() int32 { return s.historianID }

// Next returns the next point in scan order
func (s *DataPointScanner) Next() (models.DataPoint, bool) {
	for {
		for s.loaded && s.pos < len(s.buf) {
			p := s.buf[s.pos]
			s.pos++
			if s.inWindow(p.Time) {
				return p, true
			}
		}
		if s.next >= len(s.blocks) {
			return models.DataPoint{}, false
		}
		s.load(s.blocks[s.next])
		s.next++
	}
}

func (s *DataPointScanner) load(b *DataBlock) {
	points, err := b.Read()
	if err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		points = nil
	}
	if s.descending {
		for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
			points[i], points[j] = points[j], points[i]
		}
	}
	s.buf = points
	s.pos = 0
	s.loaded = true
}

func (s *DataPointScanner) inWindow(t models.TimeTag) bool {
	if t < s.start || t > s.end {
		return false
	}
	if s.includeEdge {
		return true
	}
	if s.descending {
		return t != s.end
	}
	return t != s.start
}

package archive

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/soltixdb/historian/internal/models"
)

// DataBlock is a fixed-size region of an archive file holding a run of data
// points for one historian id. Used slots are distinguished from free ones by
// the first empty point.
type DataBlock struct {
	index       int32
	historianID int32
	stream      *archiveStream
	size        int // bytes
	cacheWrites bool

	cursor       int // slots used, -1 until the block has been scanned; guarded by stream.mu
	lastActivity atomic.Int64
}

func newDataBlock(stream *archiveStream, index, historianID int32, sizeKB int, cacheWrites bool) *DataBlock {
	b := &DataBlock{
		index:       index,
		historianID: historianID,
		stream:      stream,
		size:        sizeKB * 1024,
		cacheWrites: cacheWrites,
		cursor:      -1,
	}
	b.touch()
	return b
}

func (b *DataBlock) Index() int32       { return b.index }
func (b *DataBlock) HistorianID() int32 { return b.historianID }

// Capacity returns the number of points the block holds
func (b *DataBlock) Capacity() int {
	return b.size / models.DataPointBinaryLength
}

// Location returns the byte offset of the block in its file
func (b *DataBlock) Location() int64 {
	return int64(b.index) * int64(b.size)
}

// Read returns the used points of the block in slot order
func (b *DataBlock) Read() ([]models.DataPoint, error) {
	b.touch()

	b.stream.mu.Lock()
	defer b.stream.mu.Unlock()
	return b.readLocked()
}

func (b *DataBlock) readLocked() ([]models.DataPoint, error) {
	if b.stream.closed() {
		return nil, ErrFileNotOpen
	}

	buf := make([]byte, b.Capacity()*models.DataPointBinaryLength)
	n, err := b.stream.readAt(buf, b.Location())
	if err != nil && n < len(buf) {
		return nil, fmt.Errorf("failed to read data block %d: %w", b.index, err)
	}

	points := make([]models.DataPoint, 0, 16)
	for off := 0; off+models.DataPointBinaryLength <= len(buf); off += models.DataPointBinaryLength {
		p, consumed := models.ParseDataPoint(buf[off:], b.historianID)
		if consumed == 0 || p.IsEmpty() {
			break
		}
		points = append(points, p)
	}
	b.cursor = len(points)
	return points, nil
}

// Write appends p to the block
func (b *DataBlock) Write(p models.DataPoint) error {
	if !p.Time.IsValid() {
		return ErrBadTimestamp
	}
	b.touch()

	b.stream.mu.Lock()
	defer b.stream.mu.Unlock()

	if err := b.ensureCursor(); err != nil {
		return err
	}
	if b.cursor >= b.Capacity() {
		return ErrBlockFull
	}

	off := b.Location() + int64(b.cursor)*models.DataPointBinaryLength
	if err := b.stream.writeAt(p.Encode(), off); err != nil {
		return fmt.Errorf("failed to write data block %d: %w", b.index, err)
	}
	b.cursor++

	if !b.cacheWrites {
		return b.stream.sync()
	}
	return nil
}

// Reset overwrites every slot with an empty point
func (b *DataBlock) Reset() error {
	b.touch()

	b.stream.mu.Lock()
	defer b.stream.mu.Unlock()

	if b.stream.closed() {
		return ErrFileNotOpen
	}
	if err := b.stream.writeAt(make([]byte, b.size), b.Location()); err != nil {
		return fmt.Errorf("failed to reset data block %d: %w", b.index, err)
	}
	b.cursor = 0

	if !b.cacheWrites {
		return b.stream.sync()
	}
	return nil
}

// SlotsUsed returns the number of points in the block. A block that cannot
// be scanned reports itself full so nothing is appended to it.
func (b *DataBlock) SlotsUsed() int {
	b.stream.mu.Lock()
	defer b.stream.mu.Unlock()

	if err := b.ensureCursor(); err != nil {
		return b.Capacity()
	}
	return b.cursor
}

// SlotsAvailable returns the number of free slots
func (b *DataBlock) SlotsAvailable() int {
	return b.Capacity() - b.SlotsUsed()
}

// IsActive reports whether the block was read or written within idle
func (b *DataBlock) IsActive(idle time.Duration) bool {
	return time.Since(time.Unix(0, b.lastActivity.Load())) <= idle
}

func (b *DataBlock) ensureCursor() error {
	if b.cursor >= 0 {
		return nil
	}
	_, err := b.readLocked()
	return err
}

func (b *DataBlock) touch() {
	b.lastActivity.Store(time.Now().UnixNano())
}

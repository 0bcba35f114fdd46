package archive

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/soltixdb/historian/internal/models"
)

// On-disk layout of an archive file:
//
//	[block 0][block 1]...[block N-1][pointer table N*12][header 64]
//
// A pointer is the owning historian id (-1 when free) followed by the time of
// the first point written to the block. The header sits in the last 64 bytes
// so the table can be located from the file size alone.
const (
	tableMagic       uint32 = 0x54414648 // "HFAT"
	tableVersion     uint32 = 1
	tableHeaderSize         = 64
	tablePointerSize        = 12

	tableReloadAttempts = 3
)

// AllocationTable maps historian ids to the data blocks they occupy in one
// archive file and carries the file's time range and point counters.
type AllocationTable struct {
	mu          sync.RWMutex
	stream      *archiveStream
	blockSizeKB int
	blockCount  int32
	blocksUsed  int32
	owners      []int32
	starts      []models.TimeTag
	byID        map[int32][]int32 // block indexes in allocation order
	fileStart   models.TimeTag
	fileEnd     models.TimeTag
	received    int64
	archived    int64
	dirty       bool
	cacheWrites bool

	// Block handles shared by the pipelines and readers
	blocksMu sync.Mutex
	blocks   map[int32]*DataBlock
}

func tableOffset(blockCount int32, blockSizeKB int) int64 {
	return int64(blockCount) * int64(blockSizeKB) * 1024
}

func archiveFileSize(blockCount int32, blockSizeKB int) int64 {
	return tableOffset(blockCount, blockSizeKB) + int64(blockCount)*tablePointerSize + tableHeaderSize
}

// createTable creates a new archive file at path with every block free
func createTable(path string, blockSizeKB int, blockCount int32, cacheWrites bool) (*AllocationTable, error) {
	stream, err := createStream(path, archiveFileSize(blockCount, blockSizeKB))
	if err != nil {
		return nil, err
	}

	t := &AllocationTable{
		stream:      stream,
		blockSizeKB: blockSizeKB,
		blockCount:  blockCount,
		owners:      make([]int32, blockCount),
		starts:      make([]models.TimeTag, blockCount),
		byID:        make(map[int32][]int32),
		fileStart:   models.MinTimeTag,
		fileEnd:     models.MinTimeTag,
		cacheWrites: cacheWrites,
		blocks:      make(map[int32]*DataBlock),
	}
	for i := range t.owners {
		t.owners[i] = models.NoHistorianID
	}

	if err := t.Save(); err != nil {
		stream.Close()
		_ = removeFile(path)
		return nil, err
	}
	return t, nil
}

// loadTable opens an existing archive file and reads its table
func loadTable(path string, readOnly, cacheWrites bool) (*AllocationTable, error) {
	stream, err := openStream(path, readOnly)
	if err != nil {
		return nil, err
	}

	t := &AllocationTable{
		stream:      stream,
		cacheWrites: cacheWrites,
		blocks:      make(map[int32]*DataBlock),
	}
	t.mu.Lock()
	err = t.loadLocked()
	t.mu.Unlock()
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func (t *AllocationTable) loadLocked() error {
	t.stream.mu.Lock()
	defer t.stream.mu.Unlock()

	if t.stream.closed() {
		return ErrFileNotOpen
	}
	size, err := t.stream.size()
	if err != nil {
		return err
	}
	if size < tableHeaderSize {
		return fmt.Errorf("%w: file too short", ErrCorruptTable)
	}

	hdr := make([]byte, tableHeaderSize)
	if _, err := t.stream.readAt(hdr, size-tableHeaderSize); err != nil {
		return fmt.Errorf("failed to read table header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != tableMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptTable)
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != tableVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptTable, v)
	}

	blockSizeKB := int(binary.LittleEndian.Uint32(hdr[8:12]))
	blockCount := int32(binary.LittleEndian.Uint32(hdr[12:16]))
	if blockSizeKB < 1 || blockCount < 1 || archiveFileSize(blockCount, blockSizeKB) != size {
		return fmt.Errorf("%w: header does not match file size %d", ErrCorruptTable, size)
	}

	ptrs := make([]byte, int(blockCount)*tablePointerSize)
	if _, err := t.stream.readAt(ptrs, tableOffset(blockCount, blockSizeKB)); err != nil {
		return fmt.Errorf("failed to read pointer table: %w", err)
	}
	if tableChecksum(ptrs, hdr) != binary.LittleEndian.Uint64(hdr[52:60]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptTable)
	}

	t.blockSizeKB = blockSizeKB
	t.blockCount = blockCount
	t.blocksUsed = int32(binary.LittleEndian.Uint32(hdr[16:20]))
	t.fileStart = models.TimeTag(math.Float64frombits(binary.LittleEndian.Uint64(hdr[20:28])))
	t.fileEnd = models.TimeTag(math.Float64frombits(binary.LittleEndian.Uint64(hdr[28:36])))
	t.received = int64(binary.LittleEndian.Uint64(hdr[36:44]))
	t.archived = int64(binary.LittleEndian.Uint64(hdr[44:52]))

	t.owners = make([]int32, blockCount)
	t.starts = make([]models.TimeTag, blockCount)
	t.byID = make(map[int32][]int32)
	for i := int32(0); i < blockCount; i++ {
		p := ptrs[int(i)*tablePointerSize:]
		t.owners[i] = int32(binary.LittleEndian.Uint32(p[0:4]))
		t.starts[i] = models.TimeTag(math.Float64frombits(binary.LittleEndian.Uint64(p[4:12])))
		if t.owners[i] != models.NoHistorianID && i < t.blocksUsed {
			t.byID[t.owners[i]] = append(t.byID[t.owners[i]], i)
		}
	}
	t.dirty = false
	return nil
}

// Reload re-reads the table from disk. A read racing with the writer's Save
// fails its checksum and is retried.
func (t *AllocationTable) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	for attempt := 0; attempt < tableReloadAttempts; attempt++ {
		if err = t.loadLocked(); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return err
}

func tableChecksum(ptrs, hdr []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write(ptrs)
	_, _ = d.Write(hdr[:52])
	return d.Sum64()
}

func (t *AllocationTable) encodeLocked() []byte {
	buf := make([]byte, int(t.blockCount)*tablePointerSize+tableHeaderSize)
	for i := int32(0); i < t.blockCount; i++ {
		p := buf[int(i)*tablePointerSize:]
		binary.LittleEndian.PutUint32(p[0:4], uint32(t.owners[i]))
		binary.LittleEndian.PutUint64(p[4:12], math.Float64bits(float64(t.starts[i])))
	}

	ptrs := buf[:int(t.blockCount)*tablePointerSize]
	hdr := buf[len(ptrs):]
	binary.LittleEndian.PutUint32(hdr[0:4], tableMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], tableVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(t.blockSizeKB))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(t.blockCount))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(t.blocksUsed))
	binary.LittleEndian.PutUint64(hdr[20:28], math.Float64bits(float64(t.fileStart)))
	binary.LittleEndian.PutUint64(hdr[28:36], math.Float64bits(float64(t.fileEnd)))
	binary.LittleEndian.PutUint64(hdr[36:44], uint64(t.received))
	binary.LittleEndian.PutUint64(hdr[44:52], uint64(t.archived))
	binary.LittleEndian.PutUint64(hdr[52:60], tableChecksum(ptrs, hdr))
	return buf
}

// Save writes the table to the end of the file and syncs it
func (t *AllocationTable) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *AllocationTable) saveLocked() error {
	buf := t.encodeLocked()

	t.stream.mu.Lock()
	defer t.stream.mu.Unlock()

	if t.stream.closed() {
		return ErrFileNotOpen
	}
	if err := t.stream.writeAt(buf, tableOffset(t.blockCount, t.blockSizeKB)); err != nil {
		return fmt.Errorf("failed to save allocation table: %w", err)
	}
	if err := t.stream.sync(); err != nil {
		return fmt.Errorf("failed to sync allocation table: %w", err)
	}
	t.dirty = false
	return nil
}

// saveIfDirty saves the table when blocks or counters changed since the last save
func (t *AllocationTable) saveIfDirty() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	return t.saveLocked()
}

// Extend grows the file by n free blocks. Bulk writers call it once before
// requesting blocks so the new blocks stay contiguous.
func (t *AllocationTable) Extend(n int32) error {
	if n <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	newCount := t.blockCount + n
	t.stream.mu.Lock()
	err := t.stream.truncate(archiveFileSize(newCount, t.blockSizeKB))
	t.stream.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to extend archive file by %d blocks: %w", n, err)
	}

	for i := int32(0); i < n; i++ {
		t.owners = append(t.owners, models.NoHistorianID)
		t.starts = append(t.starts, models.MinTimeTag)
	}
	t.blockCount = newCount
	return t.saveLocked()
}

// RequestDataBlock returns a block with free slots for historianID. The
// preferred block is reused while it still belongs to the id and has room;
// otherwise the next free block is granted and zeroed. ErrFileFull is returned
// when no free block is left.
func (t *AllocationTable) RequestDataBlock(historianID int32, start models.TimeTag, preferred int32) (*DataBlock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if preferred >= 0 && preferred < t.blocksUsed && t.owners[preferred] == historianID {
		b := t.blockLocked(preferred)
		if b.SlotsAvailable() > 0 {
			return b, nil
		}
	}

	if t.blocksUsed >= t.blockCount {
		return nil, ErrFileFull
	}

	idx := t.blocksUsed
	b := newDataBlock(t.stream, idx, historianID, t.blockSizeKB, t.cacheWrites)
	if err := b.Reset(); err != nil {
		return nil, err
	}

	t.owners[idx] = historianID
	t.starts[idx] = start
	t.byID[historianID] = append(t.byID[historianID], idx)
	t.blocksUsed++
	t.dirty = true

	t.blocksMu.Lock()
	t.blocks[idx] = b
	t.blocksMu.Unlock()
	return b, nil
}

// FindDataBlocks returns the blocks of historianID that may hold points in
// [start, end], ordered by their start time: the last block starting before
// start followed by every block starting inside the window. With forWrite set
// and nothing in the window, the id's last block is returned so the caller
// can append to it.
func (t *AllocationTable) FindDataBlocks(historianID int32, start, end models.TimeTag, forWrite bool) []*DataBlock {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idxs := append([]int32(nil), t.byID[historianID]...)
	sort.SliceStable(idxs, func(i, j int) bool {
		return t.starts[idxs[i]] < t.starts[idxs[j]]
	})

	var selected []int32
	for i, idx := range idxs {
		s := t.starts[idx]
		if s > end {
			break
		}
		if s >= start {
			selected = append(selected, idx)
			continue
		}
		// Starts before the window; it still covers start when the next block
		// begins after it.
		if i == len(idxs)-1 || t.starts[idxs[i+1]] > start {
			selected = append(selected, idx)
		}
	}

	if forWrite && len(selected) == 0 && len(idxs) > 0 {
		last := t.byID[historianID]
		selected = append(selected, last[len(last)-1])
	}

	blocks := make([]*DataBlock, 0, len(selected))
	for _, idx := range selected {
		blocks = append(blocks, t.blockLocked(idx))
	}
	return blocks
}

// FindLastDataBlock returns the most recently allocated block of historianID
func (t *AllocationTable) FindLastDataBlock(historianID int32) *DataBlock {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idxs := t.byID[historianID]
	if len(idxs) == 0 {
		return nil
	}
	return t.blockLocked(idxs[len(idxs)-1])
}

// blockLocked returns the cached handle for idx; t.mu must be held
func (t *AllocationTable) blockLocked(idx int32) *DataBlock {
	t.blocksMu.Lock()
	defer t.blocksMu.Unlock()

	if b, ok := t.blocks[idx]; ok {
		return b
	}
	b := newDataBlock(t.stream, idx, t.owners[idx], t.blockSizeKB, t.cacheWrites)
	t.blocks[idx] = b
	return b
}

// ReleaseIdleBlocks drops block handles not used within idle and returns how
// many were dropped. The on-disk data is untouched.
func (t *AllocationTable) ReleaseIdleBlocks(idle time.Duration) int {
	t.blocksMu.Lock()
	defer t.blocksMu.Unlock()

	released := 0
	for idx, b := range t.blocks {
		if !b.IsActive(idle) {
			delete(t.blocks, idx)
			released++
		}
	}
	return released
}

// ClearBlocks drops every cached block handle
func (t *AllocationTable) ClearBlocks() {
	t.blocksMu.Lock()
	t.blocks = make(map[int32]*DataBlock)
	t.blocksMu.Unlock()
}

func (t *AllocationTable) cachedBlocks() int {
	t.blocksMu.Lock()
	defer t.blocksMu.Unlock()
	return len(t.blocks)
}

// Close drops the block handles and closes the file
func (t *AllocationTable) Close() error {
	t.ClearBlocks()
	return t.stream.Close()
}

func (t *AllocationTable) Path() string { return t.stream.path }

func (t *AllocationTable) BlockSizeKB() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blockSizeKB
}

func (t *AllocationTable) BlockCount() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blockCount
}

func (t *AllocationTable) BlocksUsed() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blocksUsed
}

// Usage returns the percentage of blocks in use
func (t *AllocationTable) Usage() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return float64(t.blocksUsed) / float64(t.blockCount) * 100
}

func (t *AllocationTable) FileStart() models.TimeTag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fileStart
}

func (t *AllocationTable) FileEnd() models.TimeTag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fileEnd
}

func (t *AllocationTable) SetFileStart(tt models.TimeTag) {
	t.mu.Lock()
	t.fileStart = tt
	t.dirty = true
	t.mu.Unlock()
}

func (t *AllocationTable) SetFileEnd(tt models.TimeTag) {
	t.mu.Lock()
	t.fileEnd = tt
	t.dirty = true
	t.mu.Unlock()
}

func (t *AllocationTable) PointsReceived() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.received
}

func (t *AllocationTable) PointsArchived() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.archived
}

// AddReceived adjusts the received counter; n may be negative
func (t *AllocationTable) AddReceived(n int64) {
	t.mu.Lock()
	t.received += n
	t.dirty = true
	t.mu.Unlock()
}

// noteArchived counts an archived point and extends the file end time
func (t *AllocationTable) noteArchived(tt models.TimeTag) {
	t.mu.Lock()
	t.archived++
	if tt > t.fileEnd {
		t.fileEnd = tt
	}
	t.dirty = true
	t.mu.Unlock()
}

// HistorianIDs returns the ids owning at least one block, sorted
func (t *AllocationTable) HistorianIDs() []int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int32, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EarliestBlockStart returns the earliest start time over the used blocks
func (t *AllocationTable) EarliestBlockStart() (models.TimeTag, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.blocksUsed == 0 {
		return models.MinTimeTag, false
	}
	earliest := models.MaxTimeTag
	for i := int32(0); i < t.blocksUsed; i++ {
		if t.starts[i] < earliest {
			earliest = t.starts[i]
		}
	}
	return earliest, true
}

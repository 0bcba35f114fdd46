package models

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataPointBinaryLength is the size of an archived data point record.
const DataPointBinaryLength = 10

// NoHistorianID marks a data point or block that does not belong to any signal.
const NoHistorianID int32 = -1

const (
	millisecondMask  = 0x7FE0
	millisecondShift = 5
)

// DataPoint is a single timestamped measurement for one historian ID.
type DataPoint struct {
	HistorianID int32
	Time        TimeTag
	Value       float32
	Quality     Quality
}

// NewDataPoint creates a data point.
func NewDataPoint(historianID int32, t TimeTag, value float32, quality Quality) DataPoint {
	return DataPoint{HistorianID: historianID, Time: t, Value: value, Quality: quality}
}

// EmptyDataPoint returns the empty point for a historian ID.
func EmptyDataPoint(historianID int32) DataPoint {
	return DataPoint{HistorianID: historianID, Time: MinTimeTag}
}

// IsEmpty reports whether the point carries no data. Empty records terminate
// the used range of a data block.
func (p DataPoint) IsEmpty() bool {
	return p.Time == MinTimeTag && p.Value == 0 && p.Quality == QualityUnknown
}

// Compare orders points by historian ID, then by time.
func (p DataPoint) Compare(other DataPoint) int {
	switch {
	case p.HistorianID < other.HistorianID:
		return -1
	case p.HistorianID > other.HistorianID:
		return 1
	case p.Time < other.Time:
		return -1
	case p.Time > other.Time:
		return 1
	}
	return 0
}

// Equivalent reports whether both points carry the same time, value and quality.
func (p DataPoint) Equivalent(other DataPoint) bool {
	return p.Time == other.Time && p.Value == other.Value && p.Quality == other.Quality
}

func (p DataPoint) String() string {
	return fmt.Sprintf("%d@%s=%g(%s)", p.HistorianID, p.Time, p.Value, p.Quality)
}

// Flags packs the quality and millisecond part into the archived flags word.
func (p DataPoint) Flags() uint16 {
	_, ms := p.Time.Seconds()
	return uint16(p.Quality&QualityMask) | uint16(ms)<<millisecondShift
}

// AppendBinary appends the 10-byte archive encoding of p to buf.
func (p DataPoint) AppendBinary(buf []byte) []byte {
	sec, _ := p.Time.Seconds()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(sec)))
	buf = binary.LittleEndian.AppendUint16(buf, p.Flags())
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.Value))
}

// Encode returns the 10-byte archive encoding of p.
func (p DataPoint) Encode() []byte {
	return p.AppendBinary(make([]byte, 0, DataPointBinaryLength))
}

// ParseDataPoint decodes one archived record for historianID. It returns the
// number of bytes consumed, which is 0 when buf holds fewer than 10 bytes.
// Times outside the archive range are clamped to MinTimeTag so a corrupt
// record reads as empty instead of failing the whole scan.
func ParseDataPoint(buf []byte, historianID int32) (DataPoint, int) {
	if len(buf) < DataPointBinaryLength {
		return DataPoint{}, 0
	}

	sec := int32(binary.LittleEndian.Uint32(buf[0:4]))
	flags := binary.LittleEndian.Uint16(buf[4:6])
	value := math.Float32frombits(binary.LittleEndian.Uint32(buf[6:10]))

	ms := int((flags & millisecondMask) >> millisecondShift)
	t := TimeTagFromSeconds(int64(sec), ms)
	if sec < 0 || ms > 999 || !t.IsValid() {
		t = MinTimeTag
	}

	return DataPoint{
		HistorianID: historianID,
		Time:        t,
		Value:       value,
		Quality:     Quality(flags & QualityMask),
	}, DataPointBinaryLength
}

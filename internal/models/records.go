package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// StateRecord is the per-signal compression state carried between points.
type StateRecord struct {
	HistorianID          int32     `json:"historian_id"`
	ArchivedData         DataPoint `json:"archived_data"` // last point committed to disk
	PreviousData         DataPoint `json:"previous_data"` // last point seen, not yet committed
	CurrentData          DataPoint `json:"current_data"`  // point being evaluated
	Slope1               float64   `json:"slope1"`
	Slope2               float64   `json:"slope2"`
	ActiveDataBlockIndex int32     `json:"active_data_block_index"`
	ActiveDataBlockSlot  int32     `json:"active_data_block_slot"`
}

// NewStateRecord returns the initial state for a signal that has never
// received data.
func NewStateRecord(historianID int32) StateRecord {
	return StateRecord{
		HistorianID:          historianID,
		ArchivedData:         EmptyDataPoint(historianID),
		PreviousData:         EmptyDataPoint(historianID),
		CurrentData:          EmptyDataPoint(historianID),
		ActiveDataBlockIndex: -1,
	}
}

// IntercomRecordLength is the fixed on-disk size of an intercom record.
const IntercomRecordLength = 32

// IntercomRecord is the shared record other processes poll to learn about
// rollovers and the most recent data received.
type IntercomRecord struct {
	RolloverInProgress bool
	DataBlocksUsed     int32
	LatestDataID       int32
	LatestDataTime     TimeTag
}

// MarshalBinary encodes the record into its fixed-length form.
func (r IntercomRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, IntercomRecordLength)
	if r.RolloverInProgress {
		binary.LittleEndian.PutUint32(buf[0:4], 1)
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.DataBlocksUsed))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.LatestDataID))
	binary.LittleEndian.PutUint64(buf[12:20], math.Float64bits(float64(r.LatestDataTime)))
	return buf, nil
}

// UnmarshalBinary decodes a fixed-length intercom record.
func (r *IntercomRecord) UnmarshalBinary(buf []byte) error {
	if len(buf) < IntercomRecordLength {
		return fmt.Errorf("intercom record too short: %d bytes", len(buf))
	}
	r.RolloverInProgress = binary.LittleEndian.Uint32(buf[0:4]) != 0
	r.DataBlocksUsed = int32(binary.LittleEndian.Uint32(buf[4:8]))
	r.LatestDataID = int32(binary.LittleEndian.Uint32(buf[8:12]))
	r.LatestDataTime = TimeTag(math.Float64frombits(binary.LittleEndian.Uint64(buf[12:20])))
	return nil
}

// DataType discriminates the MetadataRecord variants.
type DataType int

const (
	DataTypeAnalog DataType = iota
	DataTypeDigital
	DataTypeComposed
	DataTypeConstant
)

func (d DataType) String() string {
	switch d {
	case DataTypeAnalog:
		return "analog"
	case DataTypeDigital:
		return "digital"
	case DataTypeComposed:
		return "composed"
	case DataTypeConstant:
		return "constant"
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// ParseDataType resolves a data type name.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "analog", "":
		return DataTypeAnalog, nil
	case "digital":
		return DataTypeDigital, nil
	case "composed":
		return DataTypeComposed, nil
	case "constant":
		return DataTypeConstant, nil
	}
	return DataTypeAnalog, fmt.Errorf("unknown data type %q", s)
}

// digitalCompressionLimit makes any change of a digital value fall outside
// the compression envelope.
const digitalCompressionLimit = 0.000000001

// MetadataRecord describes one configured signal. Exactly one of the variant
// fields is set, selected by DataType.
type MetadataRecord struct {
	HistorianID        int32    `json:"historian_id"`
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Enabled            bool     `json:"enabled"`
	DataType           DataType `json:"data_type"`
	AlarmEnabled       bool     `json:"alarm_enabled"`
	AlarmFlags         uint32   `json:"alarm_flags"`          // bit n set: quality n raises an alarm
	AlarmDelay         float64  `json:"alarm_delay"`          // seconds the condition must persist
	CompressionMinTime int64    `json:"compression_min_time"` // seconds
	CompressionMaxTime int64    `json:"compression_max_time"` // seconds

	Analog   *AnalogFields   `json:"analog,omitempty"`
	Digital  *DigitalFields  `json:"digital,omitempty"`
	Composed *ComposedFields `json:"composed,omitempty"`
	Constant *ConstantFields `json:"constant,omitempty"`
}

// AnalogFields holds the limits of an analog signal.
type AnalogFields struct {
	EngineeringUnits string  `json:"engineering_units,omitempty"`
	HighRange        float32 `json:"high_range"`
	HighAlarm        float32 `json:"high_alarm"`
	HighWarning      float32 `json:"high_warning"`
	LowWarning       float32 `json:"low_warning"`
	LowAlarm         float32 `json:"low_alarm"`
	LowRange         float32 `json:"low_range"`
	CompressionLimit float32 `json:"compression_limit"`
	ExceptionLimit   float32 `json:"exception_limit"`
	DisplayDigits    int     `json:"display_digits"`
}

// DigitalFields holds the states of a digital signal.
type DigitalFields struct {
	SetDescription   string `json:"set_description,omitempty"`
	ClearDescription string `json:"clear_description,omitempty"`
	AlarmState       int32  `json:"alarm_state"`
}

// ComposedFields describes a signal calculated from other signals.
type ComposedFields struct {
	Equation         string  `json:"equation"`
	InputIDs         []int32 `json:"input_ids,omitempty"`
	CompressionLimit float32 `json:"compression_limit"`
}

// ConstantFields describes a fixed-value signal.
type ConstantFields struct {
	Value float32 `json:"value"`
}

// NewAnalogMetadata returns an enabled analog record with the given
// compression limit and no alarm thresholds.
func NewAnalogMetadata(historianID int32, name string, compressionLimit float32) MetadataRecord {
	return MetadataRecord{
		HistorianID: historianID,
		Name:        name,
		Enabled:     true,
		DataType:    DataTypeAnalog,
		Analog: &AnalogFields{
			HighRange:        math.MaxFloat32,
			HighAlarm:        math.MaxFloat32,
			HighWarning:      math.MaxFloat32,
			LowWarning:       -math.MaxFloat32,
			LowAlarm:         -math.MaxFloat32,
			LowRange:         -math.MaxFloat32,
			CompressionLimit: compressionLimit,
		},
	}
}

// NewDigitalMetadata returns an enabled digital record.
func NewDigitalMetadata(historianID int32, name string, alarmState int32) MetadataRecord {
	return MetadataRecord{
		HistorianID: historianID,
		Name:        name,
		Enabled:     true,
		DataType:    DataTypeDigital,
		Digital:     &DigitalFields{AlarmState: alarmState},
	}
}

// Validate checks that the variant matching DataType is the only one set.
func (m MetadataRecord) Validate() error {
	if m.HistorianID < 1 {
		return fmt.Errorf("invalid historian id %d", m.HistorianID)
	}
	set := map[DataType]bool{
		DataTypeAnalog:   m.Analog != nil,
		DataTypeDigital:  m.Digital != nil,
		DataTypeComposed: m.Composed != nil,
		DataTypeConstant: m.Constant != nil,
	}
	if _, ok := set[m.DataType]; !ok {
		return fmt.Errorf("historian id %d: %w", m.HistorianID, errUnknownDataType)
	}
	for dt, present := range set {
		if dt == m.DataType && !present {
			return fmt.Errorf("historian id %d: %s fields missing", m.HistorianID, dt)
		}
		if dt != m.DataType && present {
			return fmt.Errorf("historian id %d: %s fields set on %s record", m.HistorianID, dt, m.DataType)
		}
	}
	return nil
}

var errUnknownDataType = errors.New("unknown data type")

// CompressionLimit returns the swinging-door tolerance for the signal.
func (m MetadataRecord) CompressionLimit() float32 {
	switch {
	case m.DataType == DataTypeAnalog && m.Analog != nil:
		return m.Analog.CompressionLimit
	case m.DataType == DataTypeComposed && m.Composed != nil:
		return m.Composed.CompressionLimit
	}
	return digitalCompressionLimit
}

// ClassifyQuality derives the quality of a value from the configured limits.
func (m MetadataRecord) ClassifyQuality(value float32) Quality {
	switch {
	case m.DataType == DataTypeAnalog && m.Analog != nil:
		a := m.Analog
		switch {
		case value >= a.HighRange:
			return QualityUnreasonableHigh
		case value >= a.HighAlarm:
			return QualityValueAboveHiHiAlarm
		case value >= a.HighWarning:
			return QualityValueAboveHiAlarm
		case value <= a.LowRange:
			return QualityUnreasonableLow
		case value <= a.LowAlarm:
			return QualityValueBelowLoLoAlarm
		case value <= a.LowWarning:
			return QualityValueBelowLoAlarm
		}
		return QualityGood
	case m.DataType == DataTypeDigital && m.Digital != nil:
		if int32(value) == m.Digital.AlarmState {
			return QualityLogicalAlarm
		}
		return QualityGood
	}
	return QualityUnknown
}

// RaisesAlarm reports whether quality q is selected by the alarm flags.
func (m MetadataRecord) RaisesAlarm(q Quality) bool {
	return m.AlarmFlags&(1<<uint(q&QualityMask)) != 0
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateRecord(t *testing.T) {
	s := NewStateRecord(12)
	assert.Equal(t, int32(12), s.HistorianID)
	assert.True(t, s.ArchivedData.IsEmpty())
	assert.True(t, s.PreviousData.IsEmpty())
	assert.True(t, s.CurrentData.IsEmpty())
	assert.Equal(t, int32(-1), s.ActiveDataBlockIndex)
}

func TestIntercomRecord_Binary(t *testing.T) {
	rec := IntercomRecord{
		RolloverInProgress: true,
		DataBlocksUsed:     17,
		LatestDataID:       4,
		LatestDataTime:     TimeTagFromMillis(790_000_123_456),
	}
	buf, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, buf, IntercomRecordLength)

	var decoded IntercomRecord
	require.NoError(t, decoded.UnmarshalBinary(buf))
	assert.Equal(t, rec, decoded)

	assert.Error(t, decoded.UnmarshalBinary(buf[:10]))
}

func TestMetadataRecord_Validate(t *testing.T) {
	analog := NewAnalogMetadata(1, "temp", 0.5)
	digital := NewDigitalMetadata(2, "breaker", 1)

	mixed := NewAnalogMetadata(3, "mixed", 0.5)
	mixed.Digital = &DigitalFields{}

	missing := MetadataRecord{HistorianID: 4, DataType: DataTypeComposed}

	tests := []struct {
		name    string
		rec     MetadataRecord
		wantErr bool
	}{
		{"analog", analog, false},
		{"digital", digital, false},
		{"two variants", mixed, true},
		{"missing variant", missing, true},
		{"bad id", MetadataRecord{HistorianID: 0, Analog: &AnalogFields{}}, true},
		{"unknown type", MetadataRecord{HistorianID: 5, DataType: 9}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetadataRecord_ClassifyQuality(t *testing.T) {
	m := NewAnalogMetadata(1, "pressure", 0)
	m.Analog.HighRange = 100
	m.Analog.HighAlarm = 90
	m.Analog.HighWarning = 80
	m.Analog.LowWarning = 20
	m.Analog.LowAlarm = 10
	m.Analog.LowRange = 0

	tests := []struct {
		value float32
		want  Quality
	}{
		{150, QualityUnreasonableHigh},
		{95, QualityValueAboveHiHiAlarm},
		{85, QualityValueAboveHiAlarm},
		{50, QualityGood},
		{15, QualityValueBelowLoAlarm},
		{5, QualityValueBelowLoLoAlarm},
		{-1, QualityUnreasonableLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.ClassifyQuality(tt.value), "value %v", tt.value)
	}

	d := NewDigitalMetadata(2, "breaker", 1)
	assert.Equal(t, QualityLogicalAlarm, d.ClassifyQuality(1))
	assert.Equal(t, QualityGood, d.ClassifyQuality(0))
}

func TestMetadataRecord_ClassifyQualityWithoutLimits(t *testing.T) {
	composed := MetadataRecord{HistorianID: 3, Enabled: true, DataType: DataTypeComposed, Composed: &ComposedFields{Equation: "a+b"}}
	constant := MetadataRecord{HistorianID: 4, Enabled: true, DataType: DataTypeConstant, Constant: &ConstantFields{Value: 7}}

	assert.Equal(t, QualityUnknown, composed.ClassifyQuality(1e9))
	assert.Equal(t, QualityUnknown, constant.ClassifyQuality(7))
}

func TestMetadataRecord_CompressionLimit(t *testing.T) {
	assert.Equal(t, float32(0.25), NewAnalogMetadata(1, "a", 0.25).CompressionLimit())
	assert.Equal(t, float32(digitalCompressionLimit), NewDigitalMetadata(2, "d", 1).CompressionLimit())
}

func TestMetadataRecord_RaisesAlarm(t *testing.T) {
	m := NewAnalogMetadata(1, "a", 0)
	m.AlarmFlags = 1 << uint(QualityValueAboveHiHiAlarm)
	assert.True(t, m.RaisesAlarm(QualityValueAboveHiHiAlarm))
	assert.False(t, m.RaisesAlarm(QualityGood))
}

func TestMetadataRecord_JSONKeepsVariant(t *testing.T) {
	m := NewDigitalMetadata(9, "pump", 1)
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded MetadataRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
	assert.Nil(t, decoded.Analog)
	assert.NoError(t, decoded.Validate())
}

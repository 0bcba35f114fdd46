package models

import "fmt"

// Quality describes the condition of a measured value. It occupies 5 bits of
// the archived flags word.
type Quality uint8

const (
	QualityUnknown Quality = iota
	QualityDeletedFromProcessing
	QualityCouldNotCalculate
	QualityFrontEndHardwareError
	QualitySensorReadError
	QualityOpenThermocouple
	QualityInputCountsOutOfSensorRange
	QualityUnreasonableHigh
	QualityUnreasonableLow
	QualityOld
	QualitySuspectValueAboveHiHiLimit
	QualitySuspectValueBelowLoLoLimit
	QualitySuspectValueAboveHiLimit
	QualitySuspectValueBelowLoLimit
	QualitySuspectData
	QualityDigitalSuspectAlarm
	QualityInsertedValueAboveHiHiLimit
	QualityInsertedValueBelowLoLoLimit
	QualityInsertedValueAboveHiLimit
	QualityInsertedValueBelowLoLimit
	QualityInsertedValue
	QualityDigitalInsertedStatusInAlarm
	QualityLogicalAlarm
	QualityValueAboveHiHiAlarm
	QualityValueBelowLoLoAlarm
	QualityValueAboveHiAlarm
	QualityValueBelowLoAlarm
	QualityDeletedFromAlarmChecks
	QualityInhibitedByCutoutPoint
	QualityGood
)

// QualityMask selects the quality bits of the archived flags word.
const QualityMask = 0x1F

var qualityNames = map[Quality]string{
	QualityUnknown:                      "Unknown",
	QualityDeletedFromProcessing:        "DeletedFromProcessing",
	QualityCouldNotCalculate:            "CouldNotCalculate",
	QualityFrontEndHardwareError:        "FrontEndHardwareError",
	QualitySensorReadError:              "SensorReadError",
	QualityOpenThermocouple:             "OpenThermocouple",
	QualityInputCountsOutOfSensorRange:  "InputCountsOutOfSensorRange",
	QualityUnreasonableHigh:             "UnreasonableHigh",
	QualityUnreasonableLow:              "UnreasonableLow",
	QualityOld:                          "Old",
	QualitySuspectValueAboveHiHiLimit:   "SuspectValueAboveHiHiLimit",
	QualitySuspectValueBelowLoLoLimit:   "SuspectValueBelowLoLoLimit",
	QualitySuspectValueAboveHiLimit:     "SuspectValueAboveHiLimit",
	QualitySuspectValueBelowLoLimit:     "SuspectValueBelowLoLimit",
	QualitySuspectData:                  "SuspectData",
	QualityDigitalSuspectAlarm:          "DigitalSuspectAlarm",
	QualityInsertedValueAboveHiHiLimit:  "InsertedValueAboveHiHiLimit",
	QualityInsertedValueBelowLoLoLimit:  "InsertedValueBelowLoLoLimit",
	QualityInsertedValueAboveHiLimit:    "InsertedValueAboveHiLimit",
	QualityInsertedValueBelowLoLimit:    "InsertedValueBelowLoLimit",
	QualityInsertedValue:                "InsertedValue",
	QualityDigitalInsertedStatusInAlarm: "DigitalInsertedStatusInAlarm",
	QualityLogicalAlarm:                 "LogicalAlarm",
	QualityValueAboveHiHiAlarm:          "ValueAboveHiHiAlarm",
	QualityValueBelowLoLoAlarm:          "ValueBelowLoLoAlarm",
	QualityValueAboveHiAlarm:            "ValueAboveHiAlarm",
	QualityValueBelowLoAlarm:            "ValueBelowLoAlarm",
	QualityDeletedFromAlarmChecks:       "DeletedFromAlarmChecks",
	QualityInhibitedByCutoutPoint:       "InhibitedByCutoutPoint",
	QualityGood:                         "Good",
}

func (q Quality) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("Quality(%d)", uint8(q))
}

// IsValid reports whether q fits in the 5-bit quality field.
func (q Quality) IsValid() bool {
	return q <= QualityMask
}

// ParseQuality resolves a quality by name or by numeric value.
func ParseQuality(s string) (Quality, error) {
	for q, name := range qualityNames {
		if name == s {
			return q, nil
		}
	}
	var n uint8
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && Quality(n).IsValid() {
		return Quality(n), nil
	}
	return QualityUnknown, fmt.Errorf("unknown quality %q", s)
}

package records

import (
	"fmt"

	"github.com/soltixdb/historian/internal/config"
	"github.com/soltixdb/historian/internal/models"
)

// MetadataFromConfig converts a configured point into a metadata record.
// Thresholds left unset in configuration never trigger.
func MetadataFromConfig(p config.PointConfig) (models.MetadataRecord, error) {
	dataType, err := models.ParseDataType(p.Type)
	if err != nil {
		return models.MetadataRecord{}, fmt.Errorf("point %d: %w", p.ID, err)
	}

	rec := models.MetadataRecord{
		HistorianID:        p.ID,
		Name:               p.Name,
		Description:        p.Description,
		Enabled:            p.IsEnabled(),
		DataType:           dataType,
		AlarmEnabled:       p.AlarmEnabled,
		AlarmFlags:         p.AlarmFlags,
		AlarmDelay:         p.AlarmDelay,
		CompressionMinTime: p.CompressionMinTime,
		CompressionMaxTime: p.CompressionMaxTime,
	}

	switch dataType {
	case models.DataTypeAnalog:
		analog := models.NewAnalogMetadata(p.ID, p.Name, p.CompressionLimit).Analog
		analog.EngineeringUnits = p.Units
		setLimit(&analog.HighRange, p.HighRange)
		setLimit(&analog.HighAlarm, p.HighAlarm)
		setLimit(&analog.HighWarning, p.HighWarning)
		setLimit(&analog.LowWarning, p.LowWarning)
		setLimit(&analog.LowAlarm, p.LowAlarm)
		setLimit(&analog.LowRange, p.LowRange)
		rec.Analog = analog
	case models.DataTypeDigital:
		rec.Digital = &models.DigitalFields{AlarmState: p.AlarmState}
	case models.DataTypeComposed:
		rec.Composed = &models.ComposedFields{Equation: p.Equation, CompressionLimit: p.CompressionLimit}
	case models.DataTypeConstant:
		rec.Constant = &models.ConstantFields{Value: p.Value}
	}

	return rec, rec.Validate()
}

func setLimit(dst *float32, v *float32) {
	if v != nil {
		*dst = *v
	}
}

// SeedMetadata writes a metadata record for every configured point and
// returns how many were written.
func SeedMetadata(store MetadataStore, points []config.PointConfig) (int, error) {
	for i, p := range points {
		rec, err := MetadataFromConfig(p)
		if err != nil {
			return i, err
		}
		if err := store.WriteMetadata(p.ID, rec); err != nil {
			return i, fmt.Errorf("failed to seed point %d: %w", p.ID, err)
		}
	}
	return len(points), nil
}

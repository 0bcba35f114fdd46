package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/historian/internal/models"
)

func TestParsePointLine(t *testing.T) {
	ts := time.Date(2020, 1, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)

	tests := []struct {
		name    string
		line    string
		want    models.DataPoint
		skip    bool
		wantErr bool
	}{
		{"rfc3339", "7,2020-01-01T12:00:00.25Z,1.5", models.NewDataPoint(7, models.NewTimeTag(ts), 1.5, models.QualityUnknown), false, false},
		{"millis with quality", "7, 1577880000250, -2, Good", models.NewDataPoint(7, models.NewTimeTag(ts), -2, models.QualityGood), false, false},
		{"numeric quality", "3,1577880000250,0,22", models.NewDataPoint(3, models.NewTimeTag(ts), 0, models.QualityLogicalAlarm), false, false},
		{"blank", "   ", models.DataPoint{}, true, false},
		{"comment", "# id,time,value", models.DataPoint{}, true, false},
		{"too few fields", "7,2020-01-01T12:00:00Z", models.DataPoint{}, false, true},
		{"bad id", "x,2020-01-01T12:00:00Z,1", models.DataPoint{}, false, true},
		{"zero id", "0,2020-01-01T12:00:00Z,1", models.DataPoint{}, false, true},
		{"bad time", "7,yesterday,1", models.DataPoint{}, false, true},
		{"bad value", "7,2020-01-01T12:00:00Z,abc", models.DataPoint{}, false, true},
		{"bad quality", "7,2020-01-01T12:00:00Z,1,Great", models.DataPoint{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, skip, err := parsePointLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.skip, skip)
			assert.Equal(t, tt.want, p)
		})
	}
}

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/soltixdb/historian/internal/models"
)

// parsePointLine parses "id,time,value[,quality]". time is RFC 3339 or unix
// milliseconds; quality is a name or number and defaults to Unknown so the
// archive classifies the value. Blank lines and lines starting with '#' are
// skipped.
func parsePointLine(line string) (models.DataPoint, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return models.DataPoint{}, true, nil
	}

	fields := strings.Split(line, ",")
	if len(fields) < 3 || len(fields) > 4 {
		return models.DataPoint{}, false, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	id, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil || id < 1 {
		return models.DataPoint{}, false, fmt.Errorf("invalid historian id %q", fields[0])
	}

	t, err := parseTime(fields[1])
	if err != nil {
		return models.DataPoint{}, false, err
	}

	value, err := strconv.ParseFloat(fields[2], 32)
	if err != nil {
		return models.DataPoint{}, false, fmt.Errorf("invalid value %q", fields[2])
	}

	quality := models.QualityUnknown
	if len(fields) == 4 && fields[3] != "" {
		if quality, err = models.ParseQuality(fields[3]); err != nil {
			return models.DataPoint{}, false, err
		}
	}

	return models.NewDataPoint(int32(id), t, float32(value), quality), false, nil
}

func parseTime(s string) (models.TimeTag, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return models.NewTimeTag(time.UnixMilli(ms)), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return models.NewTimeTag(t), nil
}

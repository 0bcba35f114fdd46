package models

import (
	"math"
	"time"
)

// TimeTag is a timestamp expressed as decimal seconds counted from
// 1995-01-01 00:00:00 UTC. Archive files store the whole seconds as a signed
// 32-bit integer, which bounds the valid range to 2063-01-19.
type TimeTag float64

const (
	// MinTimeTag is the earliest representable time (1995-01-01 00:00:00.000).
	MinTimeTag TimeTag = 0

	// MaxTimeTag is the latest representable time (2063-01-19 03:14:07.999).
	MaxTimeTag TimeTag = math.MaxInt32 + 0.999

	timeTagLayout = "2006-01-02 15:04:05.000"
)

// TimeTagBase is the instant represented by MinTimeTag.
var TimeTagBase = time.Date(1995, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewTimeTag converts t to a TimeTag truncated to millisecond precision.
// The result may fall outside the valid range; use IsValid to check.
func NewTimeTag(t time.Time) TimeTag {
	return TimeTagFromMillis(t.Sub(TimeTagBase).Milliseconds())
}

// TimeTagFromMillis builds a TimeTag from milliseconds since the base.
func TimeTagFromMillis(ms int64) TimeTag {
	return TimeTag(float64(ms) / 1000)
}

// TimeTagFromSeconds builds a TimeTag from whole seconds and a millisecond part.
func TimeTagFromSeconds(seconds int64, millis int) TimeTag {
	return TimeTagFromMillis(seconds*1000 + int64(millis))
}

// Now returns the current time as a TimeTag.
func Now() TimeTag {
	return NewTimeTag(time.Now())
}

// Millis returns the TimeTag as whole milliseconds since the base.
func (t TimeTag) Millis() int64 {
	return int64(math.Round(float64(t) * 1000))
}

// Seconds splits the TimeTag into whole seconds and milliseconds.
func (t TimeTag) Seconds() (int64, int) {
	ms := t.Millis()
	sec := ms / 1000
	rem := ms % 1000
	if rem < 0 {
		sec--
		rem += 1000
	}
	return sec, int(rem)
}

// Time converts the TimeTag to a UTC time.Time.
func (t TimeTag) Time() time.Time {
	return TimeTagBase.Add(time.Duration(t.Millis()) * time.Millisecond)
}

// IsValid reports whether the TimeTag can be stored in an archive file.
func (t TimeTag) IsValid() bool {
	return t >= MinTimeTag && t <= MaxTimeTag
}

// Add returns the TimeTag shifted by d.
func (t TimeTag) Add(d time.Duration) TimeTag {
	return TimeTagFromMillis(t.Millis() + d.Milliseconds())
}

// Sub returns t-u in seconds.
func (t TimeTag) Sub(u TimeTag) float64 {
	return float64(t) - float64(u)
}

func (t TimeTag) String() string {
	return t.Time().Format(timeTagLayout)
}

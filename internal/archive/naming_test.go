package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soltixdb/historian/internal/models"
)

func TestHistoricFileName(t *testing.T) {
	start := models.NewTimeTag(time.Date(2020, 1, 1, 10, 30, 0, 0, time.UTC))
	end := models.NewTimeTag(time.Date(2020, 1, 2, 8, 15, 42, 125*int(time.Millisecond), time.UTC))

	name := HistoricFileName(filepath.Join("data", "archive.d"), start, end)
	assert.Equal(t, filepath.Join("data", "archive_2020-01-01 10!30!00.000_to_2020-01-02 08!15!42.125.d"), name)
	assert.NotContains(t, filepath.Base(name), ":")

	s, e, ok := ParseHistoricFileName(name)
	assert.True(t, ok)
	assert.Equal(t, start, s)
	assert.Equal(t, end, e)

	matched, err := filepath.Match(historicFilePattern("archive.d", "data"), name)
	assert.NoError(t, err)
	assert.True(t, matched)
}

func TestFileTypeOf(t *testing.T) {
	tests := []struct {
		path string
		want FileType
	}{
		{"/var/historian/archive.d", FileTypeActive},
		{"/var/historian/archive.standby", FileTypeStandby},
		{"/var/historian/archive_2020-01-01 00!00!00.000_to_2020-01-01 01!00!00.000.d", FileTypeHistoric},
		{"/var/historian/archive_2020-01-01 00!00!00.000_to_2020-01-01 01!00!00.000.d.snappy", FileTypeHistoric},
		{"/var/historian/archive_backup.d", FileTypeActive},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FileTypeOf(tt.path), tt.path)
	}
}

func TestStandbyFileName(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "archive.standby"), StandbyFileName(filepath.Join("data", "archive.d")))
}

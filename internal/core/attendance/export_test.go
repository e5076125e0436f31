package attendance

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smart-attend-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVSinkWritesTimestampedFile(t *testing.T) {
	dir := t.TempDir()
	sink := &CSVSink{Dir: dir}

	when := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	records := []Record{
		{
			Identity: "S123",
			Name:     "Ada",
			Date:     "2026-03-02",
			ClockIn:  "09:00:00",
			ClockOut: "10:03:00",
			Duration: "01:03:00",
			Status:   StatusPresent,
		},
	}

	path, err := sink.Write(records, when)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Attendance_2026-03-02_10-15-30.csv"), path)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Id", "Name", "Date", "Clock IN Time", "Clock OUT Time", "Duration", "Status"}, rows[0])
	assert.Equal(t, []string{"S123", "Ada", "2026-03-02", "09:00:00", "10:03:00", "01:03:00", "Present"}, rows[1])
}

func TestCSVSinkEmptySession(t *testing.T) {
	dir := t.TempDir()
	sink := &CSVSink{Dir: dir}

	path, err := sink.Write(nil, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	// Header only.
	assert.Len(t, rows, 1)
}

func TestSaveCreatesDistinctFilesPerCall(t *testing.T) {
	dir := t.TempDir()
	sink := &CSVSink{Dir: dir}

	s := NewSession(config.AttendanceConfig{})
	at(s, "2026-03-02 09:00:00")
	_, err := s.ClockIn("S1", "Ada")
	require.NoError(t, err)

	at(s, "2026-03-02 10:00:00")
	first, err := s.Save(sink)
	require.NoError(t, err)

	// A second save with unchanged data still produces a new export.
	at(s, "2026-03-02 10:00:01")
	second, err := s.Save(sink)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}

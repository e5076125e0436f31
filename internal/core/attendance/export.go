package attendance

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Sink nimmt die fertigen Einträge einer Sitzung entgegen und persistiert
// sie extern. Rückgabe ist ein Bezeichner des Exports (z.B. Dateipfad).
type Sink interface {
	Write(records []Record, when time.Time) (string, error)
}

// CSVSink schreibt Exporte als datierte, zeitgestempelte CSV-Dateien in ein
// Verzeichnis. Jeder Aufruf erzeugt eine neue Datei.
type CSVSink struct {
	Dir string
}

// Spaltenköpfe des CSV-Exports
var csvHeader = []string{"Id", "Name", "Date", "Clock IN Time", "Clock OUT Time", "Duration", "Status"}

// Write schreibt die Einträge in eine neue Datei
// Attendance_YYYY-MM-DD_HH-MM-SS.csv im Zielverzeichnis
func (s *CSVSink) Write(records []Record, when time.Time) (string, error) {
	if err := os.MkdirAll(s.Dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("Attendance_%s_%s.csv",
		when.Format("2006-01-02"), when.Format("15-04-05"))
	path := filepath.Join(s.Dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("failed to write export header: %w", err)
	}
	for _, rec := range records {
		row := []string{rec.Identity, rec.Name, rec.Date, rec.ClockIn, rec.ClockOut, rec.Duration, string(rec.Status)}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush export: %w", err)
	}

	return path, nil
}

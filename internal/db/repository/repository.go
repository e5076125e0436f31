package repository

import (
	"errors"
	"fmt"
	"time"

	"smart-attend-go/internal/core/attendance"
	"smart-attend-go/internal/core/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository kapselt die Datenbankzugriffe der Anwendung
type Repository struct {
	db *gorm.DB
}

// New erstellt ein neues Repository
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SaveRecord persistiert einen Anwesenheitseintrag; ein bestehender Eintrag
// derselben Identität und desselben Datums wird aktualisiert (Clock-Out)
func (r *Repository) SaveRecord(rec attendance.Record) error {
	var existing models.AttendanceRecord
	err := r.db.Where("identity = ? AND date = ?", rec.Identity, rec.Date).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.AttendanceRecord{
			Identity: rec.Identity,
			Name:     rec.Name,
			Date:     rec.Date,
			ClockIn:  rec.ClockIn,
			ClockOut: rec.ClockOut,
			Duration: rec.Duration,
			Status:   string(rec.Status),
		}
		if err := r.db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create attendance record: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query attendance record: %w", err)
	}

	existing.ClockOut = rec.ClockOut
	existing.Duration = rec.Duration
	existing.Status = string(rec.Status)
	if err := r.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("failed to update attendance record: %w", err)
	}
	return nil
}

// ListRecords liefert alle Einträge eines Datums in Einfügereihenfolge
func (r *Repository) ListRecords(date string) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	q := r.db.Order("id asc")
	if date != "" {
		q = q.Where("date = ?", date)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list attendance records: %w", err)
	}
	return records, nil
}

// RecordExport protokolliert einen abgeschlossenen CSV-Export
func (r *Repository) RecordExport(path string, count int, at time.Time) error {
	export := models.AttendanceExport{
		FilePath:    path,
		RecordCount: count,
		ExportedAt:  at,
	}
	if err := r.db.Create(&export).Error; err != nil {
		return fmt.Errorf("failed to record export: %w", err)
	}
	return nil
}

// SaveVerdict persistiert ein Pipeline-Urteil
func (r *Repository) SaveVerdict(v *models.VerdictEvent) error {
	if err := r.db.Create(v).Error; err != nil {
		return fmt.Errorf("failed to save verdict event: %w", err)
	}
	return nil
}

// UpsertIdentity legt eine Identität an oder aktualisiert ihren Namen
func (r *Repository) UpsertIdentity(externalID, name string) error {
	identity := models.Identity{ExternalID: externalID, Name: name}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(&identity).Error
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// GetStatistics liefert Kennzahlen über Einträge, Exporte und Urteile
func (r *Repository) GetStatistics() (models.Statistics, error) {
	var stats models.Statistics

	if err := r.db.Model(&models.AttendanceRecord{}).Count(&stats.TotalRecords).Error; err != nil {
		return stats, fmt.Errorf("failed to count attendance records: %w", err)
	}
	r.db.Model(&models.AttendanceRecord{}).Where("status = ?", string(attendance.StatusPresent)).Count(&stats.PresentRecords)
	r.db.Model(&models.AttendanceRecord{}).Where("status = ?", string(attendance.StatusMCR)).Count(&stats.MCRRecords)
	r.db.Model(&models.AttendanceRecord{}).Where("status = ?", string(attendance.StatusPending)).Count(&stats.PendingRecords)
	r.db.Model(&models.AttendanceExport{}).Count(&stats.TotalExports)
	r.db.Model(&models.VerdictEvent{}).Count(&stats.TotalVerdicts)

	var latest models.VerdictEvent
	if err := r.db.Order("observed_at desc").First(&latest).Error; err == nil {
		stats.LatestVerdict = latest.ObservedAt
	}

	return stats, nil
}

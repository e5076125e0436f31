package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AttendanceRecord repräsentiert einen persistierten Anwesenheitseintrag
type AttendanceRecord struct {
	gorm.Model
	Identity string `gorm:"index;not null"` // Kennung der erkannten Person
	Name     string
	Date     string `gorm:"index"` // YYYY-MM-DD
	ClockIn  string // HH:MM:SS
	ClockOut string // "-" bis zum Clock-Out
	Duration string // "-" bis zum Clock-Out
	Status   string `gorm:"index"` // Pending, Present, MCR, Unknown
}

// AttendanceExport repräsentiert einen abgeschlossenen CSV-Export
type AttendanceExport struct {
	gorm.Model
	FilePath    string `gorm:"uniqueIndex;not null"`
	RecordCount int
	ExportedAt  time.Time `gorm:"index"`
}

// Identity repräsentiert eine bekannte Person
type Identity struct {
	gorm.Model
	ExternalID string `gorm:"uniqueIndex;not null"` // Kennung im Erkennungssystem
	Name       string `gorm:"index"`
}

// VerdictEvent repräsentiert ein persistiertes Pipeline-Urteil eines Frames
type VerdictEvent struct {
	gorm.Model
	TrackID    string    `gorm:"index"`
	Identity   string    `gorm:"index"`
	Live       bool
	Blink      bool
	Method     string
	ObservedAt time.Time      `gorm:"index"`
	Details    datatypes.JSON `gorm:"type:json"` // Scores und Begründung als Rohdaten
}

// Statistics repräsentiert Kennzahlen über Einträge und Urteile
type Statistics struct {
	TotalRecords   int64
	PresentRecords int64
	MCRRecords     int64
	PendingRecords int64
	TotalExports   int64
	TotalVerdicts  int64
	LatestVerdict  time.Time
}

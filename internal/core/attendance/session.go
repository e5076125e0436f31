package attendance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"smart-attend-go/internal/config"

	log "github.com/sirupsen/logrus"
)

// Status ist der Anwesenheitsstatus eines Eintrags
type Status string

const (
	StatusPending Status = "Pending"
	StatusPresent Status = "Present"
	// StatusMCR kennzeichnet eine Unterschreitung der Soll-Dauer
	// ("missed class requirement"), kein Fehlen.
	StatusMCR     Status = "MCR"
	StatusUnknown Status = "Unknown"
)

// Zeitformate der Einträge
const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
	// noValue markiert noch nicht gesetzte Felder eines Eintrags
	noValue = "-"
)

// Geschäftsregel-Verletzungen, die dem Aufrufer explizit gemeldet werden
var (
	ErrAlreadyClockedIn = errors.New("attendance: identity already clocked in")
	ErrNoActiveRecord   = errors.New("attendance: no active record for identity")
)

// Record ist ein Anwesenheitseintrag einer Identität für eine Sitzung
type Record struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Date     string `json:"date"`
	ClockIn  string `json:"clock_in"`
	ClockOut string `json:"clock_out"`
	Duration string `json:"duration"`
	Status   Status `json:"status"`
}

// Session ist der Zustandsautomat der Anwesenheitserfassung:
// NoRecord -> ClockedIn -> ClockedOut (für den Tag endgültig).
// Pro Identität existiert höchstens ein Eintrag; ein zweiter Clock-In wird
// abgewiesen statt still dedupliziert.
type Session struct {
	mu  sync.Mutex
	cfg config.AttendanceConfig

	records    []*Record
	byIdentity map[string]*Record

	totalClockIns  int
	totalClockOuts int
	presentToday   int

	// für Tests austauschbar
	now func() time.Time
}

// NewSession erstellt eine neue Anwesenheitssitzung
func NewSession(cfg config.AttendanceConfig) *Session {
	return &Session{
		cfg:        cfg,
		byIdentity: make(map[string]*Record),
		now:        time.Now,
	}
}

// ClockIn legt einen neuen Eintrag für die Identität an. Existiert bereits
// ein Eintrag (aktiv oder abgeschlossen), wird ErrAlreadyClockedIn gemeldet.
func (s *Session) ClockIn(identity, name string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byIdentity[identity]; exists {
		return Record{}, fmt.Errorf("%w: %s", ErrAlreadyClockedIn, identity)
	}

	now := s.now()
	rec := &Record{
		Identity: identity,
		Name:     name,
		Date:     now.Format(dateLayout),
		ClockIn:  now.Format(timeLayout),
		ClockOut: noValue,
		Duration: noValue,
		Status:   StatusPending,
	}
	s.records = append(s.records, rec)
	s.byIdentity[identity] = rec
	s.totalClockIns++

	log.Infof("Clock-in recorded for %s (%s) at %s", identity, name, rec.ClockIn)
	return *rec, nil
}

// ClockOut schließt den aktiven Eintrag der Identität ab, berechnet die
// Dauer (Uhrzeit-Subtraktion, gleicher Tag) und leitet den Status ab.
func (s *Session) ClockOut(identity string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.byIdentity[identity]
	if !exists || rec.ClockOut != noValue {
		return Record{}, fmt.Errorf("%w: %s", ErrNoActiveRecord, identity)
	}

	now := s.now()
	rec.ClockOut = now.Format(timeLayout)
	rec.Duration = deriveDuration(rec.ClockIn, rec.ClockOut)
	rec.Status = s.deriveStatus(rec.Duration)

	s.totalClockOuts++
	if rec.Status == StatusPresent {
		s.presentToday++
	}

	log.Infof("Clock-out recorded for %s at %s (duration %s, status %s)",
		identity, rec.ClockOut, rec.Duration, rec.Status)
	return *rec, nil
}

// Records liefert Kopien aller Einträge in Einfügereihenfolge
func (s *Session) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
	}
	return out
}

// Counters liefert die Sitzungszähler (Clock-Ins, Clock-Outs, Present)
func (s *Session) Counters() (clockIns, clockOuts, present int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalClockIns, s.totalClockOuts, s.presentToday
}

// Now liefert die Sitzungszeitquelle
func (s *Session) Now() time.Time {
	return s.now()
}

// Save serialisiert alle Einträge über den Sink. Der Aufruf ist bewusst
// nicht idempotent: jeder Save erzeugt einen eigenen, zeitgestempelten
// Export, auch bei unveränderten Daten.
func (s *Session) Save(sink Sink) (string, error) {
	records := s.Records()
	path, err := sink.Write(records, s.now())
	if err != nil {
		return "", fmt.Errorf("attendance export failed: %w", err)
	}
	log.Infof("Attendance export written: %s (%d records)", path, len(records))
	return path, nil
}

// deriveDuration berechnet out - in als HH:MM:SS; bei unlesbaren Zeiten
// bleibt das Feld leer markiert
func deriveDuration(clockIn, clockOut string) string {
	in, errIn := time.Parse(timeLayout, clockIn)
	out, errOut := time.Parse(timeLayout, clockOut)
	if errIn != nil || errOut != nil {
		return noValue
	}

	d := out.Sub(in)
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// deriveStatus vergleicht die Dauer mit der Soll-Dauer der Vorlesung.
// Ohne Soll-Dauer oder bei unlesbaren Werten gilt Present, keine Ablehnung.
func (s *Session) deriveStatus(duration string) Status {
	if s.cfg.TargetDuration == "" {
		return StatusPresent
	}

	target, errTarget := time.Parse(timeLayout, s.cfg.TargetDuration)
	actual, errActual := time.Parse(timeLayout, duration)
	if errTarget != nil || errActual != nil {
		log.Warnf("Could not compare duration %q with target %q, defaulting to Present",
			duration, s.cfg.TargetDuration)
		return StatusPresent
	}

	diff := target.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	tolerance := time.Duration(s.cfg.ToleranceMinutes) * time.Minute
	if diff <= tolerance {
		return StatusPresent
	}
	return StatusMCR
}

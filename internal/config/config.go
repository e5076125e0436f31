package config

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // für SQLite
}

// LivenessConfig enthält die Schwellenwerte der Lebenderkennung
type LivenessConfig struct {
	MinFrames          int     `mapstructure:"min_frames"`           // Mindestanzahl Frames im Verlauf
	StaticMotionMax    float64 `mapstructure:"static_motion_max"`    // Bewegung unterhalb => verdächtig statisch
	StaticTextureMin   float64 `mapstructure:"static_texture_min"`   // Textur oberhalb => fotoartig scharf
	MotionMin          float64 `mapstructure:"motion_min"`           // Mindestbewegung für ein lebendes Gesicht
	LowTextureOverride float64 `mapstructure:"low_texture_override"` // Textur unterhalb => schlechte Beleuchtung, nicht Foto
	Verbose            bool    `mapstructure:"verbose"`              // Ausführliche Begründungstexte
}

// EyeConfig enthält die Schwellenwerte der Augenregion-Analyse
type EyeConfig struct {
	StrictAreaMax  float64 `mapstructure:"strict_area_max"`  // Konturfläche unterhalb => Auge geschlossen (streng)
	StrictRatioMax float64 `mapstructure:"strict_ratio_max"` // Seitenverhältnis unterhalb => Auge geschlossen (streng)
	LooseAreaMax   float64 `mapstructure:"loose_area_max"`   // Konturfläche unterhalb => Auge geschlossen (locker)
	CascadeFile    string  `mapstructure:"cascade_file"`     // Pfad zur Haar-Kaskade für Augen
}

// BlinkConfig enthält die Schwellenwerte der Blinzelerkennung
type BlinkConfig struct {
	EARThreshold      float64 `mapstructure:"ear_threshold"`      // EAR unterhalb => Auge geschlossen
	ConsecutiveFrames int     `mapstructure:"consecutive_frames"` // Frames in Folge bis ein Blinzeln zählt
}

// TrackerConfig enthält die Parameter der Track-Zuordnung
type TrackerConfig struct {
	IoUThreshold    float64 `mapstructure:"iou_threshold"`     // Mindest-IoU für eine Box-Zuordnung
	MaxCenterDist   float64 `mapstructure:"max_center_dist"`   // Maximale Zentroid-Distanz als Rückfall
	MaxMissedFrames int     `mapstructure:"max_missed_frames"` // Frames ohne Treffer bis ein Track verfällt
}

// PipelineConfig bündelt die Einstellungen der Frame-Pipeline
type PipelineConfig struct {
	Liveness LivenessConfig `mapstructure:"liveness"`
	Eye      EyeConfig      `mapstructure:"eye"`
	Blink    BlinkConfig    `mapstructure:"blink"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	// Erkennungen unterhalb dieser Konfidenz gelten als Unknown
	RecognitionThreshold float64 `mapstructure:"recognition_threshold"`
}

// AttendanceConfig enthält Einstellungen der Anwesenheitsverwaltung
type AttendanceConfig struct {
	TargetDuration   string `mapstructure:"target_duration"`   // Soll-Dauer der Vorlesung, Format HH:MM:SS
	ToleranceMinutes int    `mapstructure:"tolerance_minutes"` // Abweichung in Minuten bis Status MCR
	ExportDir        string `mapstructure:"export_dir"`        // Verzeichnis für CSV-Exporte
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("SMART_ATTEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Konfiguration in Struct umwandeln
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/smart-attend.log")

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/smart-attend.db")

	// Lebenderkennung
	v.SetDefault("pipeline.liveness.min_frames", 5)
	v.SetDefault("pipeline.liveness.static_motion_max", 0.05)
	v.SetDefault("pipeline.liveness.static_texture_min", 150.0)
	v.SetDefault("pipeline.liveness.motion_min", 0.1)
	v.SetDefault("pipeline.liveness.low_texture_override", 10.0)
	v.SetDefault("pipeline.liveness.verbose", false)

	// Augenregion-Analyse
	v.SetDefault("pipeline.eye.strict_area_max", 30.0)
	v.SetDefault("pipeline.eye.strict_ratio_max", 0.3)
	v.SetDefault("pipeline.eye.loose_area_max", 100.0)
	v.SetDefault("pipeline.eye.cascade_file", "models/haarcascade_eye.xml")

	// Blinzelerkennung
	v.SetDefault("pipeline.blink.ear_threshold", 0.21)
	v.SetDefault("pipeline.blink.consecutive_frames", 2)

	// Track-Zuordnung
	v.SetDefault("pipeline.tracker.iou_threshold", 0.3)
	v.SetDefault("pipeline.tracker.max_center_dist", 80.0)
	v.SetDefault("pipeline.tracker.max_missed_frames", 15)

	v.SetDefault("pipeline.recognition_threshold", 67.0)

	// Anwesenheit
	v.SetDefault("attendance.target_duration", "")
	v.SetDefault("attendance.tolerance_minutes", 5)
	v.SetDefault("attendance.export_dir", "/data/attendance")

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "smart-attend-go")
	v.SetDefault("mqtt.topic", "smartattend/events")
}

// ensureDirectories stellt sicher, dass alle benötigten Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	dirs := []string{
		cfg.Server.DataDir,
		cfg.Attendance.ExportDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

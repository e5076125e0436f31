package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"

	"smart-attend-go/internal/config"
	"smart-attend-go/internal/core/attendance"
	"smart-attend-go/internal/core/pipeline"
	"smart-attend-go/internal/core/vision"
	"smart-attend-go/internal/db/repository"
	"smart-attend-go/internal/integrations/mqtt"
	"smart-attend-go/internal/server/sse"
	"smart-attend-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	session  *attendance.Session
	sink     attendance.Sink
	repo     *repository.Repository
	hub      *sse.Hub
	mqtt     *mqtt.Client
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(cfg *config.Config, pl *pipeline.Pipeline, session *attendance.Session, sink attendance.Sink, repo *repository.Repository, hub *sse.Hub, mqttClient *mqtt.Client) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		pipeline: pl,
		session:  session,
		sink:     sink,
		repo:     repo,
		hub:      hub,
		mqtt:     mqttClient,
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Verarbeitungs-Endpunkte
	router.POST("/process/frame", h.ProcessFrame)

	// Anwesenheits-Endpunkte
	router.GET("/attendance", h.ListAttendance)
	router.POST("/attendance/clock-in", h.ClockIn)
	router.POST("/attendance/clock-out", h.ClockOut)
	router.POST("/attendance/save", h.SaveAttendance)

	// System-Endpunkte
	router.GET("/status", h.GetStatus)
	router.GET("/events", h.Events)
}

// boxPayload ist eine Gesichtsbox in Frame-Koordinaten
type boxPayload struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type pointPayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type landmarksPayload struct {
	Left  []pointPayload `json:"left"`
	Right []pointPayload `json:"right"`
}

// detectionPayload ist eine Detektion des vorgelagerten Detektors
type detectionPayload struct {
	Box        boxPayload        `json:"box"`
	Identity   string            `json:"identity"`
	Name       string            `json:"name"`
	Confidence float64           `json:"confidence"`
	Landmarks  *landmarksPayload `json:"landmarks,omitempty"`
}

// ProcessFrame nimmt ein Frame samt Detektionen entgegen und liefert die
// Urteile der Pipeline zurück. Das Frame kommt als Multipart-Datei "frame",
// die Detektionen als JSON-Feld "detections".
func (h *APIHandler) ProcessFrame(c *gin.Context) {
	file, _, err := c.Request.FormFile("frame")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No frame uploaded or invalid form data"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read frame data"})
		return
	}

	var payloads []detectionPayload
	if raw := c.PostForm("detections"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payloads); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid detections JSON: " + err.Error()})
			return
		}
	}

	frame, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || frame.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to decode frame image"})
		return
	}
	defer frame.Close()

	frameBounds := image.Rect(0, 0, frame.Cols(), frame.Rows())

	detections := make([]pipeline.Detection, 0, len(payloads))
	regions := make([]gocv.Mat, 0, len(payloads))
	defer func() {
		for i := range regions {
			regions[i].Close()
		}
	}()

	for _, p := range payloads {
		box := image.Rect(p.Box.X, p.Box.Y, p.Box.X+p.Box.Width, p.Box.Y+p.Box.Height)
		clamped := box.Intersect(frameBounds)
		if clamped.Empty() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Detection box outside frame bounds"})
			return
		}

		region := frame.Region(clamped)
		regions = append(regions, region)

		landmarks, err := convertLandmarks(p.Landmarks)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		detections = append(detections, pipeline.Detection{
			Box:        box,
			Region:     region,
			Identity:   p.Identity,
			Name:       p.Name,
			Confidence: p.Confidence,
			Landmarks:  landmarks,
		})
	}

	result, err := h.pipeline.ProcessFrame(c.Request.Context(), detections)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Frame processing failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// convertLandmarks prüft und übersetzt die 6-Punkt-Augenlandmarken
func convertLandmarks(p *landmarksPayload) (*vision.EyeLandmarks, error) {
	if p == nil {
		return nil, nil
	}
	if len(p.Left) != vision.LandmarksPerEye || len(p.Right) != vision.LandmarksPerEye {
		return nil, errors.New("landmarks must contain exactly 6 points per eye")
	}

	lm := &vision.EyeLandmarks{
		Left:  make([]image.Point, vision.LandmarksPerEye),
		Right: make([]image.Point, vision.LandmarksPerEye),
	}
	for i := range p.Left {
		lm.Left[i] = image.Pt(p.Left[i].X, p.Left[i].Y)
		lm.Right[i] = image.Pt(p.Right[i].X, p.Right[i].Y)
	}
	return lm, nil
}

// ListAttendance liefert alle Einträge der laufenden Sitzung
func (h *APIHandler) ListAttendance(c *gin.Context) {
	clockIns, clockOuts, present := h.session.Counters()
	c.JSON(http.StatusOK, gin.H{
		"records": h.session.Records(),
		"counters": gin.H{
			"clock_ins":  clockIns,
			"clock_outs": clockOuts,
			"present":    present,
		},
	})
}

type clockRequest struct {
	Identity string `json:"identity" binding:"required"`
	Name     string `json:"name"`
}

// ClockIn registriert den Arbeitsbeginn einer Identität. Ein zweiter
// Clock-In am selben Tag wird mit 409 abgewiesen.
func (h *APIHandler) ClockIn(c *gin.Context) {
	var req clockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	// Unerkannte Gesichter können sich nicht einbuchen
	if req.Identity == pipeline.UnknownIdentity {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unrecognized identity cannot clock in"})
		return
	}

	record, err := h.session.ClockIn(req.Identity, req.Name)
	if err != nil {
		if errors.Is(err, attendance.ErrAlreadyClockedIn) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.repo.UpsertIdentity(record.Identity, record.Name); err != nil {
		log.Warnf("Failed to upsert identity %s: %v", record.Identity, err)
	}
	if err := h.repo.SaveRecord(record); err != nil {
		log.Warnf("Failed to persist attendance record: %v", err)
	}

	h.hub.BroadcastAttendance(sse.AttendanceEventData{
		Action:   "clock_in",
		Identity: record.Identity,
		Name:     record.Name,
		Status:   string(record.Status),
	})
	h.mqtt.PublishAttendance("clock_in", record)

	c.JSON(http.StatusOK, record)
}

// ClockOut registriert das Arbeitsende. Ohne offenen Eintrag antwortet
// der Endpunkt mit 404.
func (h *APIHandler) ClockOut(c *gin.Context) {
	var req clockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	record, err := h.session.ClockOut(req.Identity)
	if err != nil {
		if errors.Is(err, attendance.ErrNoActiveRecord) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.repo.SaveRecord(record); err != nil {
		log.Warnf("Failed to persist attendance record: %v", err)
	}

	h.hub.BroadcastAttendance(sse.AttendanceEventData{
		Action:   "clock_out",
		Identity: record.Identity,
		Name:     record.Name,
		Status:   string(record.Status),
		Duration: record.Duration,
	})
	h.mqtt.PublishAttendance("clock_out", record)

	c.JSON(http.StatusOK, record)
}

// SaveAttendance exportiert die laufende Sitzung als CSV-Datei
func (h *APIHandler) SaveAttendance(c *gin.Context) {
	path, err := h.session.Save(h.sink)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed: " + err.Error()})
		return
	}

	records := h.session.Records()
	if err := h.repo.RecordExport(path, len(records), h.session.Now()); err != nil {
		log.Warnf("Failed to record export metadata: %v", err)
	}

	h.hub.BroadcastAttendance(sse.AttendanceEventData{
		Action:   "save",
		FilePath: path,
	})
	h.mqtt.PublishAttendance("save", gin.H{"file_path": path, "records": len(records)})

	c.JSON(http.StatusOK, gin.H{
		"file_path": path,
		"records":   len(records),
	})
}

// GetStatus liefert System- und Pipeline-Statistiken
func (h *APIHandler) GetStatus(c *gin.Context) {
	stats := utils.GetSystemStats(h.pipeline.ActiveTracks())
	clockIns, clockOuts, present := h.session.Counters()

	dbStats, err := h.repo.GetStatistics()
	if err != nil {
		log.Warnf("Failed to load database statistics: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"system": stats,
		"attendance": gin.H{
			"clock_ins":  clockIns,
			"clock_outs": clockOuts,
			"present":    present,
		},
		"database":       dbStats,
		"mqtt_connected": h.mqtt.IsConnected(),
	})
}

// Events streamt Pipeline- und Anwesenheitsereignisse als Server-Sent Events
func (h *APIHandler) Events(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 10)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	for {
		select {
		case msg, open := <-client:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

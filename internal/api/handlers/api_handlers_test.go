package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"smart-attend-go/internal/config"
	"smart-attend-go/internal/core/attendance"
	"smart-attend-go/internal/core/models"
	"smart-attend-go/internal/core/pipeline"
	"smart-attend-go/internal/db/repository"
	"smart-attend-go/internal/integrations/mqtt"
	"smart-attend-go/internal/server/sse"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gocv "gocv.io/x/gocv"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testRouter(t *testing.T) (*gin.Engine, *attendance.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			Liveness: config.LivenessConfig{
				MinFrames:          5,
				StaticMotionMax:    0.05,
				StaticTextureMin:   150.0,
				MotionMin:          0.1,
				LowTextureOverride: 10.0,
			},
			Eye: config.EyeConfig{
				StrictAreaMax:  30.0,
				StrictRatioMax: 0.3,
				LooseAreaMax:   100.0,
			},
			Blink: config.BlinkConfig{
				EARThreshold:      0.21,
				ConsecutiveFrames: 2,
			},
			Tracker: config.TrackerConfig{
				IoUThreshold:    0.3,
				MaxCenterDist:   80.0,
				MaxMissedFrames: 15,
			},
			RecognitionThreshold: 67.0,
		},
		Attendance: config.AttendanceConfig{
			TargetDuration:   "01:00:00",
			ToleranceMinutes: 5,
			ExportDir:        t.TempDir(),
		},
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AttendanceRecord{},
		&models.AttendanceExport{},
		&models.Identity{},
		&models.VerdictEvent{},
	))
	repo := repository.New(db)

	hub := sse.NewHub()
	go hub.Run()

	mqttClient := mqtt.NewClient(config.MQTTConfig{Enabled: false})

	pl := pipeline.New(cfg, hub, repo, mqttClient)
	t.Cleanup(pl.Close)

	session := attendance.NewSession(cfg.Attendance)
	sink := &attendance.CSVSink{Dir: cfg.Attendance.ExportDir}

	handler := NewAPIHandler(cfg, pl, session, sink, repo, hub, mqttClient)
	router := gin.New()
	handler.RegisterRoutes(router.Group("/api"))

	return router, session
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestClockInEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	w := postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "S123", "name": "Ada"})
	require.Equal(t, http.StatusOK, w.Code)

	var rec attendance.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "S123", rec.Identity)
	assert.Equal(t, attendance.StatusPending, rec.Status)
}

func TestClockInConflict(t *testing.T) {
	router, _ := testRouter(t)

	w := postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "S123", "name": "Ada"})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "S123", "name": "Ada"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestClockInMissingIdentity(t *testing.T) {
	router, _ := testRouter(t)

	w := postJSON(router, "/api/attendance/clock-in", gin.H{"name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClockInRejectsUnknownIdentity(t *testing.T) {
	router, _ := testRouter(t)

	w := postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "Unknown", "name": "Unknown"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClockOutWithoutRecord(t *testing.T) {
	router, _ := testRouter(t)

	w := postJSON(router, "/api/attendance/clock-out", gin.H{"identity": "S123"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClockOutCompletesRecord(t *testing.T) {
	router, _ := testRouter(t)

	w := postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "S123", "name": "Ada"})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(router, "/api/attendance/clock-out", gin.H{"identity": "S123"})
	require.Equal(t, http.StatusOK, w.Code)

	var rec attendance.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEqual(t, "-", rec.ClockOut)
	assert.NotEqual(t, "-", rec.Duration)
}

func TestListAttendance(t *testing.T) {
	router, _ := testRouter(t)

	postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "S1", "name": "Ada"})
	postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "S2", "name": "Grace"})

	req := httptest.NewRequest(http.MethodGet, "/api/attendance", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Records  []attendance.Record `json:"records"`
		Counters struct {
			ClockIns int `json:"clock_ins"`
		} `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Records, 2)
	assert.Equal(t, 2, body.Counters.ClockIns)
}

func TestSaveAttendance(t *testing.T) {
	router, _ := testRouter(t)

	postJSON(router, "/api/attendance/clock-in", gin.H{"identity": "S1", "name": "Ada"})
	postJSON(router, "/api/attendance/clock-out", gin.H{"identity": "S1"})

	w := postJSON(router, "/api/attendance/save", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		FilePath string `json:"file_path"`
		Records  int    `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Records)
	assert.FileExists(t, body.FilePath)
	assert.Contains(t, filepath.Base(body.FilePath), "Attendance_")
}

func TestGetStatus(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "system")
	assert.Contains(t, body, "attendance")
	assert.Equal(t, false, body["mqtt_connected"])
}

func TestProcessFrameRejectsMissingFile(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/process/frame", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessFrameEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	frame := gocv.NewMatWithSize(200, 200, gocv.MatTypeCV8UC3)
	defer frame.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, frame)
	require.NoError(t, err)
	defer buf.Close()

	detections, err := json.Marshal([]detectionPayload{
		{
			Box:        boxPayload{X: 10, Y: 10, Width: 100, Height: 100},
			Identity:   "S123",
			Name:       "Ada",
			Confidence: 80.0,
		},
	})
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("frame", "frame.png")
	require.NoError(t, err)
	_, err = fw.Write(buf.GetBytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("detections", string(detections)))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process/frame", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result pipeline.FrameResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Verdicts, 1)
	// First frame of a fresh track: liveness has nothing to compare yet.
	assert.False(t, result.Verdicts[0].Live)
	assert.True(t, result.Verdicts[0].Recognized)
}

func TestProcessFrameRejectsOutOfBoundsBox(t *testing.T) {
	router, _ := testRouter(t)

	frame := gocv.NewMatWithSize(50, 50, gocv.MatTypeCV8UC3)
	defer frame.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, frame)
	require.NoError(t, err)
	defer buf.Close()

	detections, err := json.Marshal([]detectionPayload{
		{Box: boxPayload{X: 200, Y: 200, Width: 50, Height: 50}},
	})
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("frame", "frame.png")
	require.NoError(t, err)
	_, err = fw.Write(buf.GetBytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("detections", string(detections)))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process/frame", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConvertLandmarksValidation(t *testing.T) {
	lm, err := convertLandmarks(nil)
	require.NoError(t, err)
	assert.Nil(t, lm)

	_, err = convertLandmarks(&landmarksPayload{
		Left:  make([]pointPayload, 5),
		Right: make([]pointPayload, 6),
	})
	assert.Error(t, err)

	lm, err = convertLandmarks(&landmarksPayload{
		Left:  make([]pointPayload, 6),
		Right: make([]pointPayload, 6),
	})
	require.NoError(t, err)
	assert.Len(t, lm.Left, 6)
	assert.Len(t, lm.Right, 6)
}

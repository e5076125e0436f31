package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smart-attend-go/internal/api/handlers"
	"smart-attend-go/internal/config"
	"smart-attend-go/internal/core/attendance"
	"smart-attend-go/internal/core/pipeline"
	"smart-attend-go/internal/db"
	"smart-attend-go/internal/db/repository"
	"smart-attend-go/internal/integrations/mqtt"
	"smart-attend-go/internal/logger"
	"smart-attend-go/internal/server/sse"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Pfad zur Konfigurationsdatei")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use logrus fatal even before full initialization if config fails
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log); err != nil {
		// Log the error but continue, the logger might have defaulted
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	// Initialize database connection
	log.Info("Initializing database...")
	if err := db.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Info("Database initialization complete.")
	repo := repository.New(db.DB)

	// SSE-Hub starten
	hub := sse.NewHub()
	go hub.Run()

	// MQTT-Client starten (läuft auch deaktiviert als No-Op weiter)
	mqttClient := mqtt.NewClient(cfg.MQTT)
	if err := mqttClient.Start(); err != nil {
		log.Warnf("MQTT client failed to start: %v. Continuing without MQTT.", err)
	}
	defer mqttClient.Stop()

	// Analyse-Pipeline und Anwesenheitssitzung aufbauen
	pl := pipeline.New(cfg, hub, repo, mqttClient)
	defer pl.Close()

	session := attendance.NewSession(cfg.Attendance)
	sink := &attendance.CSVSink{Dir: cfg.Attendance.ExportDir}

	// Router aufsetzen
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS für externe Capture-Hosts
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	apiHandler := handlers.NewAPIHandler(cfg, pl, session, sink, repo, hub, mqttClient)
	apiHandler.RegisterRoutes(router.Group("/api"))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Server im Hintergrund starten, auf Signale warten
	go func() {
		log.Infof("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Forced shutdown: %v", err)
	}
	log.Info("Server stopped")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxscribe/voxscribe/cmd/server/internal/api"
	"github.com/voxscribe/voxscribe/cmd/server/internal/config"
	"github.com/voxscribe/voxscribe/cmd/server/internal/device"
	"github.com/voxscribe/voxscribe/cmd/server/internal/inference"
	"github.com/voxscribe/voxscribe/cmd/server/internal/monitor"
	"github.com/voxscribe/voxscribe/cmd/server/internal/notify"
	"github.com/voxscribe/voxscribe/cmd/server/internal/pipeline"
	"github.com/voxscribe/voxscribe/cmd/server/internal/speakers"
	"github.com/voxscribe/voxscribe/cmd/server/internal/store"
	"github.com/voxscribe/voxscribe/pkg/logger"
	"github.com/voxscribe/voxscribe/pkg/similarity"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logInstance, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		WithSource:  !strings.EqualFold(cfg.Server.Env, "production"),
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "server")
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	for _, dir := range []string{filepath.Dir(cfg.Data.DatabasePath), cfg.Data.MediaDir, cfg.Data.IndexDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			appLogger.Error("data directory init failed", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	st, err := store.Open(cfg.Data.DatabasePath)
	if err != nil {
		appLogger.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	devices := device.NewManager(device.NewHostAccelerator(), appLogger)
	profile := devices.Select(cfg.Device.Preferred)
	devices.Snapshot()
	appLogger.Info("compute profile selected",
		"device", string(profile.Kind), "precision", string(profile.Precision), "batch_size", profile.BatchSize)

	indexes := similarity.NewRegistry(cfg.Data.IndexDir, appLogger)

	// Model runtimes are out-of-process; until one is attached the built-in
	// deterministic engines serve development and integration use.
	engines := inference.FakeEngines()
	appLogger.Warn("no inference runtime configured, using development engines",
		"model", cfg.Pipeline.ModelName)

	resolver := speakers.NewResolver(st, indexes, engines.Embedder, speakers.Policy{
		ListFloor:            cfg.Speakers.ListFloor,
		AutoSuggestThreshold: cfg.Speakers.SuggestionThreshold,
		SuppressionMargin:    cfg.Speakers.SuppressionMargin,
		SuggestionCap:        cfg.Speakers.SuggestionCap,
		MinSegmentSeconds:    cfg.Speakers.MinSegmentSeconds,
		TopSegments:          cfg.Speakers.TopSegments,
	}, appLogger)

	orch := pipeline.New(st, engines, devices, resolver, &notify.LogNotifier{Logger: appLogger},
		profile, cfg.Pipeline.MaxConcurrent, appLogger)

	detector := monitor.NewDetector(st, monitor.Rules{
		StaleAfter:          cfg.Monitor.StaleAfter,
		MaxTranscription:    cfg.Monitor.MaxTranscription,
		MaxDefault:          cfg.Monitor.MaxDefault,
		StuckRecordingAfter: cfg.Monitor.StuckRecordingAfter,
		OrphanedAfter:       time.Duration(cfg.Monitor.OrphanedAfterHours) * time.Hour,
	})
	sweeper := monitor.NewSweeper(detector, &monitor.LogRecovery{Logger: appLogger},
		cfg.Monitor.Interval, appLogger)
	sweeper.Start()

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", api.HandleHealth())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api/v1/recordings", api.HandleCreateRecording(st))
	r.GET("/api/v1/recordings", api.HandleListRecordings(st))
	r.GET("/api/v1/recordings/:id", api.HandleGetRecording(st))
	r.DELETE("/api/v1/recordings/:id", api.HandleDeleteRecording(st, indexes))
	r.GET("/api/v1/recordings/:id/transcript", api.HandleGetTranscript(st))
	r.GET("/api/v1/recordings/:id/speakers", api.HandleListRecordingSpeakers(st))
	r.POST("/api/v1/recordings/:id/executions", api.HandleStartExecution(orch))
	r.GET("/api/v1/recordings/:id/executions", api.HandleListExecutions(st))
	r.GET("/api/v1/executions/:id", api.HandleGetExecution(st))
	r.POST("/api/v1/executions/:id/cancel", api.HandleCancelExecution(orch))
	r.POST("/api/v1/speakers/:id/resolve", api.HandleResolveSpeaker(resolver))
	r.POST("/api/v1/speakers/:id/merge/:target", api.HandleMergeSpeakers(resolver))
	r.GET("/api/v1/speakers/:id/suggestions", api.HandleSpeakerSuggestions(resolver))
	r.GET("/api/v1/profiles", api.HandleListProfiles(st))
	r.GET("/api/v1/system/stuck", api.HandleStuckScan(detector))
	r.GET("/api/v1/system/abandoned", api.HandleAbandonedScan(detector))
	r.GET("/api/v1/system/memory", api.HandleMemorySnapshot(devices))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
	}

	sweeper.Stop()
	if err := orch.Shutdown(ctx); err != nil {
		appLogger.Error("orchestrator shutdown incomplete", "error", err)
	}
	if err := indexes.Close(); err != nil {
		appLogger.Error("index save failed", "error", err)
	}
	appLogger.Info("server shutdown complete")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videoseg/internal/api"
	"videoseg/internal/engine"
	"videoseg/internal/platform/config"
	"videoseg/internal/platform/logger"
	"videoseg/internal/platform/metrics"
	"videoseg/internal/session"
	"videoseg/internal/stream"
	"videoseg/internal/video"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	tmpDir := config.GetEnv("TMP_DIR", os.TempDir()+"/videoseg")
	maxDurationSec := config.GetEnvFloat("MAX_DURATION_SEC", 60)
	maxFrames := config.GetEnvInt("MAX_FRAMES", 900)
	engineURL := config.GetEnv("ENGINE_URL", "")
	engineTimeoutSec := config.GetEnvInt("ENGINE_TIMEOUT_SEC", 120)

	log := logger.New(logLevel, logFormat)

	settings := api.Settings{
		TmpDir:         tmpDir,
		MaxDurationSec: maxDurationSec,
		MaxFrames:      maxFrames,
	}
	if err := settings.EnsureDirectories(); err != nil {
		log.Error("failed to create working directories", "error", err)
		os.Exit(1)
	}

	var eng session.Engine
	if engineURL != "" {
		eng = engine.NewRemote(engineURL, time.Duration(engineTimeoutSec)*time.Second)
	} else {
		log.Warn("ENGINE_URL not set, using in-memory fake engine")
		eng = engine.NewFake(maxFrames)
	}

	coord := session.New(eng, log, func(record session.Record) {
		video.Cleanup(record.FramesDir)
		video.Cleanup(record.UploadPath)
	})

	met := metrics.New()
	h := api.NewHandler(coord, log, met, settings)
	ws := stream.NewServer(coord, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(api.RequestID)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveSession(coord.HasActive()) }).ServeHTTP(w, req)
	})
	api.Routes(r, h, ws.HandlePropagate)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"tmp_dir", tmpDir,
		"max_duration_sec", maxDurationSec,
		"max_frames", maxFrames,
		"engine_url", engineURL,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	// Release the last session's engine state and extracted frames.
	if coord.HasActive() {
		coordCtx, coordCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		coord.Teardown(coordCtx)
		coordCancel()
	}

	log.Info("server stopped")
}

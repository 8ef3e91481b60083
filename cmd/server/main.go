package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vod-server/internal/api"
	"vod-server/internal/auth"
	"vod-server/internal/catalog"
	"vod-server/internal/gateway"
	"vod-server/internal/platform/config"
	"vod-server/internal/platform/logger"
	"vod-server/internal/platform/metrics"
	"vod-server/internal/progress"
	"vod-server/internal/segment"
	"vod-server/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	dbPath := config.GetEnv("DB_PATH", "data/vod.db")
	mediaDir := config.GetEnv("MEDIA_DIR", "data/media")
	thumbDir := config.GetEnv("THUMB_DIR", "data/thumbs")
	segmentDir := config.GetEnv("SEGMENT_DIR", "data/segments")
	segmentSeconds := config.GetEnvFloat("SEGMENT_SECONDS", 4)
	sessionTTLHours := config.GetEnvInt("SESSION_TTL_HOURS", 24)
	adminUser := config.GetEnv("ADMIN_USER", "admin")
	adminPassword := config.GetEnv("ADMIN_PASSWORD", "")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	for _, dir := range []string{filepath.Dir(dbPath), mediaDir, thumbDir, segmentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("create data dir", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sessions := auth.NewSessions(db, time.Duration(sessionTTLHours)*time.Hour)
	if adminPassword != "" {
		if err := sessions.EnsureAdmin(adminUser, adminPassword); err != nil {
			log.Error("ensure admin", "error", err)
			os.Exit(1)
		}
	}

	cat := catalog.New(db)
	tracker := progress.New(db)

	ff := segment.FFmpeg{}
	seg := segment.New(segmentDir, segmentSeconds, ff, ff, log)

	met := metrics.New()
	gw := gateway.New(log, met, sessions, cat, tracker, seg)
	h := api.NewHandler(sessions, cat, seg, ff, ff, mediaDir, thumbDir, log, met)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))

	r.Handle("/metrics", met.Handler(nil))
	r.Get("/ws", gw.ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Route("/videos", func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Post("/", h.UploadVideo)
			r.Put("/{id}", h.UpdateVideo)
			r.Delete("/{id}", h.DeleteVideo)
		})
	})
	r.Handle("/thumbs/*", http.StripPrefix("/thumbs/", http.FileServer(http.Dir(thumbDir))))

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
		"db_path", dbPath,
		"segment_dir", segmentDir,
		"segment_seconds", segmentSeconds,
		"log_level", logLevel,
	)

	// Sweep expired sessions in the background.
	stopPurge := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := sessions.PurgeExpired(); err != nil {
					log.Error("purge sessions", "error", err)
				}
			case <-stopPurge:
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	close(stopPurge)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"leaddesk/api/internal/app"
	"leaddesk/api/internal/authpw"
	"leaddesk/api/internal/cache"
	"leaddesk/api/internal/config"
	"leaddesk/api/internal/email"
	"leaddesk/api/internal/export"
	"leaddesk/api/internal/pbx"
	"leaddesk/api/internal/recording"
	"leaddesk/api/internal/search"
	"leaddesk/api/internal/stages"
	"leaddesk/api/internal/store"
	"leaddesk/api/internal/timeline"
	"leaddesk/api/internal/whatsapp"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pipeline, err := stages.Load(cfg.StagesFile)
	if err != nil {
		log.Fatalf("stages: %v", err)
	}

	// Timeline cache: process memory, backed by Redis when configured.
	var timelineCache timeline.Cache = cache.NewMemoryCache(cfg.TimelineCacheTTL)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.TimelineCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		log.Printf("Using Redis for the shared timeline cache")
		timelineCache = cache.NewTiered(timelineCache, redisCache)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAllFromPG(ctx)

	deps := app.Dependencies{
		Cache:     timelineCache,
		Pipeline:  pipeline,
		Passwords: authpw.NewService(dataStore),
		Search:    searchService,
		Exporter:  export.NewService(),
	}

	var recordings pbx.RecordingStore
	recordingStore, err := recording.New(recording.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	switch {
	case err == nil:
		if err := recordingStore.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: recording bucket check failed: %v", err)
		}
		recordings = recordingStore
		deps.Recordings = recordingStore
	case errors.Is(err, recording.ErrNotConfigured):
		log.Printf("Recording storage not configured; calls are imported without audio")
	default:
		log.Fatalf("recording storage: %v", err)
	}

	if mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}); mailer.IsConfigured() {
		deps.Mailer = mailer
	}
	if client := whatsapp.NewClient(cfg.WhatsAppBaseURL, cfg.WhatsAppToken); client.Configured() {
		deps.WhatsApp = client
	}

	var syncer *pbx.Syncer
	if client := pbx.NewClient(cfg.PBXBaseURL, cfg.PBXAPIToken, cfg.PBXPageSize); client.Configured() {
		syncer = pbx.NewSyncer(client, dataStore, recordings)
		deps.Syncer = syncer
	}

	service, err := app.New(cfg, dataStore, deps)
	if err != nil {
		log.Fatalf("service setup failed: %v", err)
	}
	if err := service.EnsureAdmin(ctx); err != nil {
		log.Printf("WARNING: admin seed failed (will retry on next restart): %v", err)
	}

	if syncer != nil && cfg.PBXSyncInterval > 0 {
		log.Printf("PBX sync every %s", cfg.PBXSyncInterval)
		go syncer.Run(ctx, cfg.PBXSyncInterval, service.HandleSyncResult)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      150 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("LeadDesk API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

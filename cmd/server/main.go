package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"floradrop/internal/api"
	"floradrop/internal/config"
	"floradrop/internal/database"
	"floradrop/internal/logging"
	"floradrop/internal/repository/postgres"
	"floradrop/internal/service"
	"floradrop/internal/storage"
	"floradrop/internal/storage/local"
	"floradrop/internal/storage/s3"
	"floradrop/internal/uploader/validate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty)
	logger.Info().Msg("configuration loaded, starting server")

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer db.Close()

	var store storage.Storage
	switch cfg.StorageDriver {
	case "s3":
		store, err = s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init s3 storage")
		}
	default:
		store = local.NewWriter(cfg.StorageDir, "")
	}

	validator := validate.New(validate.Config{
		MaxSizeBytes:     cfg.MaxUploadBytes,
		AllowedMimeTypes: validate.AllowTypes(cfg.AllowedMimeTypes...),
		MinWidth:         cfg.MinWidth,
		MinHeight:        cfg.MinHeight,
		MaxWidth:         cfg.MaxWidth,
		MaxHeight:        cfg.MaxHeight,
	}, nil, 0)

	photos := service.NewPhotoService(postgres.NewPhotoRepository(db), store)
	handler := api.NewPhotoHandler(photos, validator, cfg.MaxUploadBytes)
	router := api.NewRouter(cfg, handler)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      router,
	}

	logger.Info().Str("port", cfg.HTTPPort).Str("storage", cfg.StorageDriver).Msg("listening")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

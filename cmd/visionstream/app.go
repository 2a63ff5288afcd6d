package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdougie/visionstream/internal/analyzer"
	"github.com/bdougie/visionstream/internal/config"
	"github.com/bdougie/visionstream/internal/gradio"
	"github.com/bdougie/visionstream/internal/storage"
	"github.com/bdougie/visionstream/internal/uploader"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	journal   *storage.Journal
	session   *analyzer.Session
	processor *analyzer.Processor
	uploader  uploader.Uploader

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	var backends []storage.Storage
	if cfg.Logs.OutputDir != "" {
		fileStore := storage.NewStorage(cfg.Logs.OutputDir, cfg.Logs.Name)
		logger.Debug("writing job log", "path", fileStore.Path())
		backends = append(backends, fileStore)
	}
	if cfg.Postgres.Enabled() {
		if err := storage.InitSchema(ctx, cfg.Postgres); err != nil {
			return nil, err
		}
		pg, err := storage.NewPostgresStorage(ctx, cfg.Postgres, cfg.Logs.Name)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		backends = append(backends, pg)
	}
	a.journal = storage.NewJournal(logger, backends...)

	switch cfg.Upload.Provider {
	case config.ProviderCloudinary:
		a.uploader = uploader.NewCloudinary(cfg.Upload.CloudinaryURL, nil)
	case config.ProviderS3:
		s3Uploader, err := uploader.NewS3FromEnv(ctx, cfg.Upload.S3.Bucket, cfg.Upload.S3.Region, cfg.Upload.S3.PublicBaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.uploader = s3Uploader
	}

	a.session = analyzer.NewSession(
		cfg.Gradio.URL,
		analyzer.GradioDialer(gradio.WithLogger(logger)),
		a.journal,
		logger,
	)
	a.processor = analyzer.NewProcessor(a.session, analyzer.JobConfig{
		Endpoint:  cfg.Gradio.Endpoint,
		Parameter: cfg.Gradio.Parameter,
	})

	return a, nil
}

// Close releases the session and flushes the job log.
func (a *app) Close() {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("failed to close session", "error", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("failed to flush job log", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

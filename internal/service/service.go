// Package service assembles the dispatcher and its optional collaborators
// (job archive, NATS bus) from configuration. Both binaries start from here.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"promptbot/internal/adapter/repo"
	"promptbot/internal/bus"
	"promptbot/internal/dispatch"
	"promptbot/internal/domain"
	"promptbot/internal/infra"
	"promptbot/internal/intake"
	"promptbot/internal/jobs"
	"promptbot/internal/messages"
	"promptbot/internal/notify"
	"promptbot/internal/providers/image"
	"promptbot/internal/providers/qwen"
	"promptbot/internal/storage"
)

// Service owns the long-lived pieces of a running process.
type Service struct {
	Dispatcher *dispatch.Dispatcher
	Archive    domain.JobArchive
	Bus        *bus.Client
	Provider   string

	cfg      *infra.Config
	logger   *infra.Logger
	pool     *pgxpool.Pool
	requests *nats.Subscription
}

// New connects the optional archive and bus and builds the dispatcher.
func New(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Service, error) {
	logger = infra.OrDiscard(logger)
	s := &Service{cfg: cfg, logger: logger}

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	backend, provider, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.Provider = provider

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		archive := repo.NewJobArchive(infra.NewSQLRunner(pool, *logger))
		if err := archive.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		s.Archive = archive
		logger.Info().Msg("job archive enabled")
	}

	sinks := notify.MultiSink{notify.NewLogSink(logger)}
	var admission dispatch.Admission
	if cfg.NATSURL != "" {
		client, err := bus.Connect(cfg.NATSURL, "promptbot")
		if err != nil {
			s.closePool()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		s.Bus = client
		// Every process on the request queue must see the same user slots.
		kv, err := client.Admission(cfg.AdmissionBucket, admissionTTL(cfg))
		if err != nil {
			s.closeBus()
			s.closePool()
			return nil, fmt.Errorf("shared admission (JetStream required): %w", err)
		}
		admission = kv
		sinks = append(sinks, notify.NewNATSSink(client, cfg.DeliverySubject))
		logger.Info().Str("nats_url", cfg.NATSURL).Str("bucket", cfg.AdmissionBucket).Msg("connected to NATS")
	}

	s.Dispatcher, err = dispatch.New(dispatch.Deps{
		Store:     jobs.NewStore(jobs.Options{HistoryLimit: cfg.HistoryLimit, HistoryTTL: cfg.HistoryTTL}),
		Backend:   backend,
		Sink:      sinks,
		Writer:    files,
		Archive:   s.Archive,
		Catalog:   messages.NewCatalog(),
		Logger:    logger,
		Admission: admission,
	}, dispatch.Options{
		Timeout:              cfg.GenerationTimeout,
		DeliveryTimeout:      cfg.DeliveryTimeout,
		NegativePrompt:       cfg.NegativePrompt,
		Provider:             provider,
		AspectRatio:          cfg.AspectRatio,
		AcknowledgeAdmission: cfg.AckOnAdmit,
		MaxPromptLength:      cfg.MaxPromptLength,
	})
	if err != nil {
		s.closeBus()
		s.closePool()
		return nil, err
	}
	return s, nil
}

// admissionTTL outlives any job that finishes normally, so only slots of a
// crashed process expire.
func admissionTTL(cfg *infra.Config) time.Duration {
	return cfg.GenerationTimeout + 2*cfg.DeliveryTimeout + time.Minute
}

// NewBackend builds the configured generator. Qwen falls back to the
// synthetic renderer when it has no credentials.
func NewBackend(cfg *infra.Config, logger *infra.Logger) (image.Generator, string, error) {
	registry := image.NewRegistry()
	client := qwen.NewClient(qwen.Options{
		APIKey:         cfg.QwenAPIKey,
		BaseURL:        cfg.QwenBaseURL,
		Model:          cfg.QwenModel,
		Logger:         logger,
		RequestTimeout: cfg.GenerationTimeout,
	})
	registry.Register(image.NewQwenGenerator(client, image.NewSyntheticGenerator()), "qwen", cfg.QwenModel)
	return registry.Select(cfg.BackendProvider)
}

// ListenRequests joins the request queue. It is a no-op without a bus.
func (s *Service) ListenRequests() error {
	if s.Bus == nil {
		return nil
	}
	in := intake.NewNATSIntake(s.Dispatcher, s.cfg.DefaultLocale, s.logger)
	sub, err := in.Subscribe(s.Bus, s.cfg.RequestSubject, s.cfg.RequestQueue)
	if err != nil {
		return err
	}
	s.requests = sub
	return nil
}

// Close stops intake, drains in-flight jobs until ctx ends and releases
// connections.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.requests != nil {
		if err := s.requests.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.Dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain jobs: %w", err))
	}
	s.closeBus()
	s.closePool()
	return errors.Join(errs...)
}

func (s *Service) closeBus() {
	if s.Bus != nil {
		s.Bus.Close()
	}
}

func (s *Service) closePool() {
	if s.pool != nil {
		s.pool.Close()
	}
}

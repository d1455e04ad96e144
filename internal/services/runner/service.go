// Package runner orchestrates the two-phase shutdown run.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/fgeck/esxi-control/internal/config"
	"github.com/fgeck/esxi-control/internal/models"
	"github.com/fgeck/esxi-control/internal/services/metrics"
	"github.com/fgeck/esxi-control/internal/services/ssh"
	"github.com/fgeck/esxi-control/internal/services/telegram"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// Service defines the interface for the shutdown runner.
type Service interface {
	Shutdown(ctx context.Context, path string) *models.RunSummary
	Execute(ctx context.Context, cfg models.Config) *models.RunSummary
}

// Loader loads a validated configuration from a path.
type Loader interface {
	Load(path string) (*models.Config, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (*models.Config, error)

// Load calls f(path).
func (f LoaderFunc) Load(path string) (*models.Config, error) {
	return f(path)
}

// GatewayFactory builds the remote gateway for a run's settings.
type GatewayFactory func(settings models.Settings) ssh.Service

// Impl implements the runner Service interface.
type Impl struct {
	loader      Loader
	newGateway  GatewayFactory
	telegramSvc telegram.Service
	metricsSvc  metrics.Service
	clock       clock.Clock
	logger      zerolog.Logger

	metricsFallback *models.MetricsConfig
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return NewWithLoader(logger, LoaderFunc(config.Load))
}

// NewWithLoader creates a new runner service that reads its inventory through loader.
func NewWithLoader(logger zerolog.Logger, loader Loader) *Impl {
	return &Impl{
		loader: loader,
		newGateway: func(settings models.Settings) ssh.Service {
			return ssh.New(logger, settings)
		},
		telegramSvc: telegram.New(logger),
		metricsSvc:  metrics.New(logger),
		clock:       clock.RealClock{},
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	loader Loader,
	newGateway GatewayFactory,
	telegramSvc telegram.Service,
	metricsSvc metrics.Service,
	clk clock.Clock,
) *Impl {
	return &Impl{
		loader:      loader,
		newGateway:  newGateway,
		telegramSvc: telegramSvc,
		metricsSvc:  metricsSvc,
		clock:       clk,
		logger:      logger,
	}
}

// SetMetricsTextfile sets the textfile used when the inventory has no metrics
// section, including runs whose inventory could not be loaded.
func (s *Impl) SetMetricsTextfile(path string) {
	if path == "" {
		s.metricsFallback = nil
		return
	}
	s.metricsFallback = &models.MetricsConfig{Textfile: path}
}

// Shutdown loads the inventory at path and runs the shutdown sequence against it.
// A load failure ends the run with no outcomes and a false verdict.
func (s *Impl) Shutdown(ctx context.Context, path string) *models.RunSummary {
	summary := s.newSummary()
	logger := s.runLogger(summary)

	summary.State = models.StateLoadingInventory
	logger.Info().Str("path", path).Msg("loading inventory")

	cfg, err := s.loader.Load(path)
	if err != nil {
		summary.LoadError = err
		logger.Error().
			Err(err).
			Bool("not_found", errors.Is(err, config.ErrNotFound)).
			Msg("failed to load inventory")
		s.reduce(summary, logger)
		s.notify(ctx, summary, nil, logger)
		return summary
	}

	s.run(ctx, summary, *cfg, logger)
	return summary
}

// Execute runs the shutdown sequence against an already loaded configuration.
func (s *Impl) Execute(ctx context.Context, cfg models.Config) *models.RunSummary {
	summary := s.newSummary()
	s.run(ctx, summary, cfg, s.runLogger(summary))
	return summary
}

func (s *Impl) newSummary() *models.RunSummary {
	return &models.RunSummary{
		RunID:     uuid.NewString(),
		StartTime: s.clock.Now(),
		State:     models.StateNotStarted,
	}
}

func (s *Impl) runLogger(summary *models.RunSummary) zerolog.Logger {
	return s.logger.With().Str("run_id", summary.RunID).Logger()
}

func (s *Impl) run(ctx context.Context, summary *models.RunSummary, cfg models.Config, logger zerolog.Logger) {
	inv := cfg.Inventory
	gateway := s.newGateway(cfg.Settings)

	logger.Info().
		Int("hosts", len(inv.Hosts)).
		Int("guests", inv.GuestCount()).
		Msg("starting shutdown run")

	// Phase 1: guests.
	summary.State = models.StateDrainingGuests
	summary.Outcomes = append(summary.Outcomes, s.drainGuests(ctx, gateway, inv, cfg.Settings.Parallelism, logger)...)

	// Settle.
	summary.State = models.StateSettling
	if settle := cfg.Settings.SettleDuration; settle > 0 {
		logger.Info().Dur("settle", settle).Msg("waiting for guests to power off")
		s.clock.Sleep(settle)
	}

	// Phase 2: hosts, one at a time.
	summary.State = models.StateDrainingHosts
	for _, host := range inv.Hosts {
		target := host.Target()
		result := gateway.PowerOffHost(ctx, target)
		outcome := newOutcome(target, "", result)
		if !outcome.Succeeded {
			logger.Error().
				Str("host", host.Name).
				Str("address", host.Address).
				Str("error", outcome.Error).
				Msg("failed to power off host")
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	s.reduce(summary, logger)
	s.notify(ctx, summary, &cfg, logger)
}

type guestJob struct {
	host string
	vm   models.GuestVM
}

// drainGuests attempts every guest and returns the outcomes in inventory order.
func (s *Impl) drainGuests(
	ctx context.Context,
	gateway ssh.Service,
	inv models.Inventory,
	parallelism int,
	logger zerolog.Logger,
) []models.Outcome {
	var jobs []guestJob
	for _, host := range inv.Hosts {
		for _, vm := range host.VMs {
			jobs = append(jobs, guestJob{host: host.Name, vm: vm})
		}
	}

	outcomes := make([]models.Outcome, len(jobs))
	attempt := func(i int) {
		job := jobs[i]
		target := job.vm.Target()
		result := gateway.PowerOffGuest(ctx, target)
		outcomes[i] = newOutcome(target, job.host, result)
		if !outcomes[i].Succeeded {
			logger.Warn().
				Str("host", job.host).
				Str("vm", job.vm.Name).
				Str("address", job.vm.Address).
				Str("error", outcomes[i].Error).
				Msg("failed to power off guest")
		}
	}

	if parallelism <= 1 {
		for i := range jobs {
			attempt(i)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i := range jobs {
		g.Go(func() error {
			attempt(i)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func newOutcome(target models.Target, host string, result *models.SSHResult) models.Outcome {
	outcome := models.Outcome{
		Kind:      target.Kind,
		Name:      target.Name,
		Address:   target.Address,
		Host:      host,
		Succeeded: result.Succeeded(),
	}
	if result != nil && result.Error != nil {
		outcome.Error = result.Error.Error()
	}
	if !outcome.Succeeded && outcome.Error == "" {
		outcome.Error = "power-off not confirmed"
	}
	return outcome
}

// reduce computes the verdict from the host outcomes alone.
func (s *Impl) reduce(summary *models.RunSummary, logger zerolog.Logger) {
	summary.State = models.StateReduced
	summary.Duration = s.clock.Since(summary.StartTime)

	if summary.LoadError != nil {
		summary.Success = false
	} else {
		summary.Success = true
		for _, o := range summary.HostOutcomes() {
			if !o.Succeeded {
				summary.Success = false
				break
			}
		}
	}

	for _, o := range summary.Outcomes {
		status := "SUCCESS"
		if !o.Succeeded {
			status = "FAILED"
		}
		logger.Info().
			Str("kind", string(o.Kind)).
			Str("target", o.Name).
			Str("address", o.Address).
			Str("status", status).
			Msg("shutdown result")
	}

	event := logger.Info()
	if !summary.Success {
		event = logger.Error()
	}
	event.
		Bool("success", summary.Success).
		Int("failed", len(summary.Failed())).
		Dur("duration", summary.Duration).
		Msg("shutdown run completed")
}

func (s *Impl) notify(ctx context.Context, summary *models.RunSummary, cfg *models.Config, logger zerolog.Logger) {
	var tg *models.TelegramConfig
	metricsCfg := s.metricsFallback
	if cfg != nil {
		tg = cfg.Telegram
		if cfg.Metrics != nil {
			metricsCfg = cfg.Metrics
		}
	}

	if tg != nil && s.telegramSvc != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		result, err := s.telegramSvc.SendNotification(notifyCtx, *tg, *summary)
		cancel()
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("failed to send Telegram notification")
		case result.Error != nil:
			logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		default:
			logger.Info().Msg("Telegram notification sent")
		}
	}

	if metricsCfg != nil && s.metricsSvc != nil {
		if err := s.metricsSvc.Write(*metricsCfg, *summary); err != nil {
			logger.Error().Err(err).Msg("failed to write metrics")
		}
	}
}

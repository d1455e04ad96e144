// Package metrics exports shutdown run results as a node_exporter textfile.
package metrics

import (
	"fmt"

	"github.com/fgeck/esxi-control/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const namespace = "esxi_control"

// Service defines the interface for metrics export.
type Service interface {
	Write(cfg models.MetricsConfig, summary models.RunSummary) error
}

// WriteFunc writes everything gathered from g to a file.
type WriteFunc func(filename string, g prometheus.Gatherer) error

// Impl implements the metrics Service interface.
type Impl struct {
	write  WriteFunc
	logger zerolog.Logger
}

// New creates a new metrics service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		write:  prometheus.WriteToTextfile,
		logger: logger,
	}
}

// NewWithWriter creates a new metrics service with a custom writer (for testing).
func NewWithWriter(logger zerolog.Logger, write WriteFunc) *Impl {
	return &Impl{
		write:  write,
		logger: logger,
	}
}

// Write renders summary into cfg.Textfile, replacing what was there.
func (s *Impl) Write(cfg models.MetricsConfig, summary models.RunSummary) error {
	reg := Registry(summary)

	if err := s.write(cfg.Textfile, reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	s.logger.Debug().Str("textfile", cfg.Textfile).Msg("metrics textfile written")
	return nil
}

// Registry builds a registry holding the gauges for one run.
func Registry(summary models.RunSummary) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	targetSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "target_shutdown_success",
		Help:      "Whether the last power-off attempt of a target succeeded.",
	}, []string{"kind", "name", "address"})

	targets := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "targets",
		Help:      "Number of targets attempted in the last run.",
	}, []string{"kind"})

	inventoryLoaded := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inventory_load_success",
		Help:      "Whether the inventory could be loaded.",
	})

	runSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_success",
		Help:      "Whether every host of the last run was powered off.",
	})

	runDuration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run.",
	})

	runTimestamp := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_timestamp_seconds",
		Help:      "Start time of the last run.",
	})

	reg.MustRegister(targetSuccess, targets, inventoryLoaded, runSuccess, runDuration, runTimestamp)

	counts := map[models.TargetKind]int{models.KindGuest: 0, models.KindHost: 0}
	for _, o := range summary.Outcomes {
		targetSuccess.WithLabelValues(string(o.Kind), o.Name, o.Address).Set(boolToFloat(o.Succeeded))
		counts[o.Kind]++
	}
	for kind, n := range counts {
		targets.WithLabelValues(string(kind)).Set(float64(n))
	}

	inventoryLoaded.Set(boolToFloat(summary.LoadError == nil))
	runSuccess.Set(boolToFloat(summary.Success))
	runDuration.Set(summary.Duration.Seconds())
	runTimestamp.Set(float64(summary.StartTime.Unix()))

	return reg
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

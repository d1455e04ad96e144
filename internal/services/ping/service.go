// Package ping checks whether a machine answers ICMP echo requests.
package ping

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fgeck/esxi-control/internal/models"
	"github.com/go-ping/ping"
	"github.com/rs/zerolog"
)

// Service defines the interface for reachability checks.
type Service interface {
	IsReachable(ctx context.Context, address string) bool
}

// Prober wraps the ICMP library for mocking.
// It returns the number of replies received.
type Prober interface {
	Probe(ctx context.Context, address string, cfg models.PingSettings) (int, error)
}

// DefaultProber is the default implementation using go-ping.
type DefaultProber struct{}

// Probe sends cfg.Count echo requests and waits at most cfg.Timeout for replies.
func (p *DefaultProber) Probe(ctx context.Context, address string, cfg models.PingSettings) (int, error) {
	pinger, err := ping.NewPinger(address)
	if err != nil {
		return 0, fmt.Errorf("failed to create pinger: %w", err)
	}
	pinger.Count = cfg.Count
	pinger.Timeout = cfg.Timeout
	pinger.SetPrivileged(cfg.Privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return 0, runError(err)
	}

	return pinger.Statistics().PacketsRecv, nil
}

// ErrPermissionDenied is returned when the process may not open an ICMP socket.
var ErrPermissionDenied = errors.New("not permitted to open ICMP socket")

const permissionHint = "privileged ping needs root or CAP_NET_RAW " +
	"(setcap cap_net_raw+ep on the binary); otherwise set ping.privileged to false " +
	"and allow unprivileged ping via net.ipv4.ping_group_range"

func runError(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("failed to ping: %w", err)
}

// Impl implements the ping Service interface.
type Impl struct {
	prober   Prober
	settings models.PingSettings
	logger   zerolog.Logger

	permissionOnce sync.Once
}

// New creates a new ping service.
func New(logger zerolog.Logger, settings models.PingSettings) *Impl {
	return &Impl{
		prober:   &DefaultProber{},
		settings: settings,
		logger:   logger,
	}
}

// NewWithProber creates a new ping service with a custom prober (for testing).
func NewWithProber(logger zerolog.Logger, settings models.PingSettings, prober Prober) *Impl {
	return &Impl{
		prober:   prober,
		settings: settings,
		logger:   logger,
	}
}

// IsReachable reports whether address answered at least one echo request.
// Every failure, including a timeout, is reported as unreachable.
func (s *Impl) IsReachable(ctx context.Context, address string) bool {
	start := time.Now()

	received, err := s.prober.Probe(ctx, address, s.settings)
	if errors.Is(err, ErrPermissionDenied) {
		s.permissionOnce.Do(func() {
			s.logger.Error().
				Err(err).
				Bool("privileged", s.settings.Privileged).
				Str("hint", permissionHint).
				Msg("cannot send ICMP echo requests, every target will be reported unreachable")
		})
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("address", address).Msg("ping failed")
		return false
	}

	if ctx.Err() != nil {
		s.logger.Warn().Err(ctx.Err()).Str("address", address).Msg("ping interrupted")
		return false
	}

	if received == 0 {
		s.logger.Warn().
			Str("address", address).
			Dur("timeout", s.settings.Timeout).
			Msg("ping timed out")
		return false
	}

	s.logger.Debug().
		Str("address", address).
		Int("received", received).
		Dur("duration", time.Since(start)).
		Msg("target is reachable")

	return true
}

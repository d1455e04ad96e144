// Package ssh powers off remote machines over SSH.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/esxi-control/internal/models"
	"github.com/fgeck/esxi-control/internal/services/ping"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// ElevationPromptMarker is the text sudo writes to stderr when it asks for a password.
// Seeing it after a guest power-off means sudo accepted the command. The guest drops the
// connection while powering off, so the exit status is never available and this marker
// is the only confirmation we get. It depends on sudo's prompt wording.
const ElevationPromptMarker = "[sudo] password for"

const (
	guestPowerOffCommand = "sudo -S poweroff"
	hostPowerOffCommand  = "poweroff"
	testCommand          = "echo OK"

	defaultPort           = 22
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
)

var (
	// ErrUnreachable is set when the target does not answer ping.
	ErrUnreachable = errors.New("target is unreachable")
	// ErrAuthentication is set when the target rejects the credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotConfirmed is set when a guest power-off did not echo the elevation prompt.
	ErrNotConfirmed = errors.New("elevation prompt not observed")
)

// Service defines the interface for remote power operations.
type Service interface {
	PowerOffGuest(ctx context.Context, target models.Target) *models.SSHResult
	PowerOffHost(ctx context.Context, target models.Target) *models.SSHResult
	TestConnection(ctx context.Context, target models.Target) *models.SSHResult
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	StdinPipe() (io.WriteCloser, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	pinger        ping.Service
	settings      models.SSHSettings
	logger        zerolog.Logger
}

// New creates a new SSH service that gates every operation on a ping.
func New(logger zerolog.Logger, settings models.Settings) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		pinger:        ping.New(logger, settings.Ping),
		settings:      withDefaults(settings.SSH),
		logger:        logger,
	}
}

// NewWithClients creates a new SSH service with a custom client factory and pinger (for testing).
func NewWithClients(logger zerolog.Logger, settings models.SSHSettings, factory ClientFactory, pinger ping.Service) *Impl {
	return &Impl{
		clientFactory: factory,
		pinger:        pinger,
		settings:      withDefaults(settings),
		logger:        logger,
	}
}

func withDefaults(settings models.SSHSettings) models.SSHSettings {
	if settings.Port == 0 {
		settings.Port = defaultPort
	}
	if settings.ConnectTimeout <= 0 {
		settings.ConnectTimeout = defaultConnectTimeout
	}
	if settings.CommandTimeout <= 0 {
		settings.CommandTimeout = defaultCommandTimeout
	}
	return settings
}

func (s *Impl) buildConfig(target models.Target) *ssh.ClientConfig {
	password := target.Password

	return &ssh.ClientConfig{
		User: target.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// ESXi only offers keyboard-interactive by default.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // hosts are trusted on first use
		Timeout:         s.settings.ConnectTimeout,
	}
}

func (s *Impl) addr(target models.Target) string {
	port := target.Port
	if port == 0 {
		port = s.settings.Port
	}
	return net.JoinHostPort(target.Address, strconv.Itoa(port))
}

func (s *Impl) targetLogger(target models.Target) zerolog.Logger {
	return s.logger.With().
		Str("target", target.Name).
		Str("address", target.Address).
		Str("kind", string(target.Kind)).
		Logger()
}

// connect checks reachability and opens an authenticated client.
// On failure result is filled in and the returned client is nil.
func (s *Impl) connect(ctx context.Context, target models.Target, result *models.SSHResult, logger zerolog.Logger) SSHClient {
	if !s.pinger.IsReachable(ctx, target.Address) {
		logger.Warn().Msg("target is offline, cannot proceed")
		result.Error = ErrUnreachable
		return nil
	}
	result.Reachable = true

	type dialResult struct {
		client SSHClient
		err    error
	}

	addr := s.addr(target)
	sshConfig := s.buildConfig(target)
	clientChan := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// Close whatever the dial still produces.
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		result.Error = ctx.Err()
		logger.Error().Err(ctx.Err()).Msg("failed to connect")
		return nil
	case res := <-clientChan:
		if res.err != nil {
			if isAuthError(res.err) {
				result.Error = fmt.Errorf("%w: %w", ErrAuthentication, res.err)
				logger.Error().Msg("failed to connect: authentication failed")
			} else {
				result.Error = fmt.Errorf("failed to connect: %w", res.err)
				logger.Error().Err(res.err).Msg("failed to connect")
			}
			return nil
		}
		result.Connected = true
		return res.client
	}
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// PowerOffGuest powers off a guest VM with sudo, answering the password prompt inline.
// Success means the sudo prompt was echoed back on stderr.
func (s *Impl) PowerOffGuest(ctx context.Context, target models.Target) *models.SSHResult {
	result := &models.SSHResult{}
	logger := s.targetLogger(target)

	logger.Info().Str("user", target.Username).Msg("initiating guest power-off")

	client := s.connect(ctx, target, result, logger)
	if client == nil {
		return result
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		logger.Error().Err(err).Msg("failed to create session")
		return result
	}
	defer func() { _ = session.Close() }()

	stdin, err := session.StdinPipe()
	if err != nil {
		result.Error = fmt.Errorf("failed to open stdin: %w", err)
		logger.Error().Err(err).Msg("failed to open stdin")
		return result
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		result.Error = fmt.Errorf("failed to open stderr: %w", err)
		logger.Error().Err(err).Msg("failed to open stderr")
		return result
	}

	logger.Debug().Str("command", guestPowerOffCommand).Msg("executing power-off command")

	if err := session.Start(guestPowerOffCommand); err != nil {
		result.Error = fmt.Errorf("failed to start command: %w", err)
		logger.Error().Err(err).Msg("failed to start power-off command")
		return result
	}
	result.CommandRun = true

	if _, err := io.WriteString(stdin, target.Password+"\n"); err != nil {
		// The prompt may still have been written, keep reading.
		logger.Debug().Err(err).Msg("failed to write password to stdin")
	}
	_ = stdin.Close()

	output, err := s.readUntilPrompt(ctx, stderr)
	result.Output = output

	if strings.Contains(output, ElevationPromptMarker) {
		result.Confirmed = true
		logger.Info().Msg("power-off command sent successfully")
		return result
	}

	if err != nil {
		result.Error = err
	} else {
		result.Error = fmt.Errorf("%w: %s", ErrNotConfirmed, strings.TrimSpace(output))
	}
	logger.Error().
		Err(err).
		Str("output", strings.TrimSpace(output)).
		Msg("error executing power-off command")

	return result
}

// readUntilPrompt collects stderr until the elevation prompt shows up or the stream ends.
// A read error counts as the end of the stream: the guest drops the connection as it goes down.
// On timeout or cancellation the output read so far is returned with the error.
func (s *Impl) readUntilPrompt(ctx context.Context, r io.Reader) (string, error) {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	done := make(chan struct{})

	go func() {
		defer close(done)
		chunk := make([]byte, 1024)
		marker := []byte(ElevationPromptMarker)
		for {
			n, err := r.Read(chunk)
			mu.Lock()
			buf.Write(chunk[:n])
			seen := bytes.Contains(buf.Bytes(), marker)
			mu.Unlock()
			if seen || err != nil {
				return
			}
		}
	}()

	collected := func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}

	timer := time.NewTimer(s.settings.CommandTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return collected(), nil
	case <-ctx.Done():
		return collected(), ctx.Err()
	case <-timer.C:
		return collected(), fmt.Errorf("timed out after %s waiting for command output", s.settings.CommandTimeout)
	}
}

// PowerOffHost powers off a hypervisor host. The account is expected to be privileged
// already, so no password is fed to the command. Success means the command was
// dispatched; the host drops the session before any output or exit status arrives.
func (s *Impl) PowerOffHost(ctx context.Context, target models.Target) *models.SSHResult {
	result := &models.SSHResult{}
	logger := s.targetLogger(target)

	logger.Info().Str("user", target.Username).Msg("initiating host power-off")

	client := s.connect(ctx, target, result, logger)
	if client == nil {
		return result
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		logger.Error().Err(err).Msg("failed to create session")
		return result
	}
	defer func() { _ = session.Close() }()

	logger.Debug().Str("command", hostPowerOffCommand).Msg("executing power-off command")

	if err := session.Start(hostPowerOffCommand); err != nil {
		result.Error = fmt.Errorf("failed to start command: %w", err)
		logger.Error().Err(err).Msg("failed to start power-off command")
		return result
	}
	result.CommandRun = true

	logger.Info().Msg("power-off command sent successfully")

	return result
}

// TestConnection verifies reachability and SSH login without powering anything off.
func (s *Impl) TestConnection(ctx context.Context, target models.Target) *models.SSHResult {
	result := &models.SSHResult{}
	logger := s.targetLogger(target)

	logger.Debug().Msg("testing SSH connection")

	client := s.connect(ctx, target, result, logger)
	if client == nil {
		return result
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result
	}
	defer func() { _ = session.Close() }()

	// Run a simple command to verify connectivity
	output, err := session.CombinedOutput(testCommand)
	result.Output = string(output)
	result.CommandRun = true

	if err != nil {
		result.Error = fmt.Errorf("test command failed: %w", err)
	}

	return result
}

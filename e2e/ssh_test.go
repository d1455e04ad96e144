//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/esxi-control/internal/models"
	"github.com/fgeck/esxi-control/internal/services/ping"
	"github.com/fgeck/esxi-control/internal/services/ssh"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func testSettings() models.Settings {
	return models.Settings{
		SSH: models.SSHSettings{
			Port:           22,
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
		Ping: models.PingSettings{
			Count:      2,
			Timeout:    3 * time.Second,
			Privileged: os.Getenv("TEST_PING_PRIVILEGED") == "true",
		},
	}
}

func getTarget(t *testing.T) models.Target {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	password := os.Getenv("TEST_SSH_PASSWORD")
	if password == "" {
		t.Skip("TEST_SSH_PASSWORD not set")
	}

	return models.Target{
		Kind:     models.KindGuest,
		Name:     "e2e",
		Address:  host,
		Port:     port,
		Username: user,
		Password: password,
	}
}

func TestPing_E2E(t *testing.T) {
	target := getTarget(t)

	svc := ping.New(testLogger(), testSettings().Ping)

	assert.True(t, svc.IsReachable(context.Background(), target.Address))
}

func TestSSHTestConnection_E2E(t *testing.T) {
	target := getTarget(t)

	svc := ssh.New(testLogger(), testSettings())

	result := svc.TestConnection(context.Background(), target)

	require.NoError(t, result.Error)
	assert.True(t, result.Reachable)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "OK")
}

func TestSSHUnreachable_E2E(t *testing.T) {
	target := models.Target{
		Kind:     models.KindHost,
		Name:     "unreachable",
		Address:  "192.168.255.254", // Non-routable IP
		Username: "root",
		Password: "irrelevant",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svc := ssh.New(testLogger(), testSettings())

	result := svc.PowerOffHost(ctx, target)

	assert.False(t, result.Succeeded())
	assert.False(t, result.Connected)
	assert.ErrorIs(t, result.Error, ssh.ErrUnreachable)
}

func TestSSHWrongPassword_E2E(t *testing.T) {
	target := getTarget(t)
	target.Password = "definitely-not-the-password"

	svc := ssh.New(testLogger(), testSettings())

	result := svc.TestConnection(context.Background(), target)

	assert.False(t, result.CommandRun)
	assert.ErrorIs(t, result.Error, ssh.ErrAuthentication)
}

// WARNING: This test will actually power off the target!
// Only run if you really want to test shutdown functionality.
func TestPowerOffGuest_E2E(t *testing.T) {
	if os.Getenv("TEST_SSH_SHUTDOWN_ENABLED") != "true" {
		t.Skip("TEST_SSH_SHUTDOWN_ENABLED is not true - skipping actual shutdown test")
	}

	target := getTarget(t)

	svc := ssh.New(testLogger(), testSettings())

	result := svc.PowerOffGuest(context.Background(), target)

	assert.True(t, result.CommandRun)
	assert.True(t, result.Confirmed, "output: %s", result.Output)
}

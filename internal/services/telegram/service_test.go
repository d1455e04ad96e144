package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/esxi-control/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func successSummary() models.RunSummary {
	return models.RunSummary{
		RunID:     "2f1c0b7e",
		StartTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Duration:  25 * time.Second,
		State:     models.StateReduced,
		Success:   true,
		Outcomes: []models.Outcome{
			{Kind: models.KindGuest, Name: "VM1", Address: "10.0.0.2", Host: "H1", Succeeded: true},
			{Kind: models.KindGuest, Name: "VM2", Address: "10.0.0.3", Host: "H1", Succeeded: false, Error: "target is unreachable"},
			{Kind: models.KindHost, Name: "H1", Address: "10.0.0.1", Succeeded: true},
		},
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successSummary())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Shutdown Successful")
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successSummary())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successSummary())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestSendNotification_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, context.Canceled
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendNotification(ctx, testConfig(), successSummary())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}

func TestFormatMessage_Success(t *testing.T) {
	svc := New(testLogger())

	result := svc.formatMessage(successSummary())

	assert.Contains(t, result, "Shutdown Successful")
	assert.Contains(t, result, "2f1c0b7e")
	assert.Contains(t, result, "2024-01-15 10:30:00")
	assert.Contains(t, result, "Guests: 1/2 powered off")
	assert.Contains(t, result, "Hosts: 1/1 powered off")
	assert.Contains(t, result, "guest VM2 (10.0.0.3)")
	assert.Contains(t, result, "target is unreachable")
	assert.NotContains(t, result, "VM1 (")
}

func TestFormatMessage_HostFailure(t *testing.T) {
	svc := New(testLogger())

	summary := models.RunSummary{
		RunID:   "run",
		Success: false,
		Outcomes: []models.Outcome{
			{Kind: models.KindHost, Name: "H<1>", Address: "10.0.0.1", Error: "authentication failed"},
		},
	}

	result := svc.formatMessage(summary)

	assert.Contains(t, result, "Shutdown Failed")
	assert.Contains(t, result, "Hosts: 0/1 powered off")
	assert.Contains(t, result, "host H&lt;1&gt; (10.0.0.1)")
	assert.Contains(t, result, "authentication failed")
}

func TestFormatMessage_LoadError(t *testing.T) {
	svc := New(testLogger())

	summary := models.RunSummary{
		RunID:     "run",
		LoadError: errors.New("inventory file not found: conf/conf.json"),
	}

	result := svc.formatMessage(summary)

	assert.Contains(t, result, "Shutdown Failed")
	assert.Contains(t, result, "Inventory could not be loaded")
	assert.Contains(t, result, "conf/conf.json")
	assert.NotContains(t, result, "Targets")
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{"a & b", "a &amp; b"},
		{"<>&", "&lt;&gt;&amp;"},
		{"normal text", "normal text"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeHTML(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

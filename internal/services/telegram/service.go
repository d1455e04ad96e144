// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fgeck/esxi-control/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, summary models.RunSummary) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification reports the outcome of a shutdown run via Telegram.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, summary models.RunSummary) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", summary.Success).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      s.formatMessage(summary),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) formatMessage(summary models.RunSummary) string {
	var b bytes.Buffer

	if summary.Success {
		b.WriteString("✅ <b>Shutdown Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>Shutdown Failed</b>\n\n")
	}

	b.WriteString(fmt.Sprintf("🆔 <b>Run:</b> <code>%s</code>\n", escapeHTML(summary.RunID)))
	b.WriteString(fmt.Sprintf("⏰ <b>Started:</b> %s\n", summary.StartTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("⏱ <b>Duration:</b> %s\n", summary.Duration.Round(time.Second)))

	if summary.LoadError != nil {
		b.WriteString("\n<b>⚠️ Inventory could not be loaded:</b>\n")
		b.WriteString(fmt.Sprintf("  • Error: <code>%s</code>\n", escapeHTML(summary.LoadError.Error())))
		return b.String()
	}

	guests := summary.GuestOutcomes()
	hosts := summary.HostOutcomes()

	b.WriteString("\n<b>📊 Targets:</b>\n")
	b.WriteString(fmt.Sprintf("  • Guests: %d/%d powered off\n", countSucceeded(guests), len(guests)))
	b.WriteString(fmt.Sprintf("  • Hosts: %d/%d powered off\n", countSucceeded(hosts), len(hosts)))

	if failed := summary.Failed(); len(failed) > 0 {
		b.WriteString("\n<b>⚠️ Failed targets:</b>\n")
		for _, o := range failed {
			b.WriteString(fmt.Sprintf("  • %s %s (%s)", o.Kind, escapeHTML(o.Name), escapeHTML(o.Address)))
			if o.Error != "" {
				b.WriteString(fmt.Sprintf(": <code>%s</code>", escapeHTML(o.Error)))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func countSucceeded(outcomes []models.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Package sms provides SMS notification sending through an HTTP gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/watchover/watchover/internal/domain"
	"github.com/watchover/watchover/internal/notify"
)

const defaultTimeout = 10 * time.Second

// Config holds SMS sender configuration.
type Config struct {
	Enabled    bool
	GatewayURL string
	APIKey     string
	FromNumber string
	// RateLimit is the maximum gateway requests per second. Zero means
	// unlimited.
	RateLimit float64
}

// Sender implements SMS notification sending via an HTTP gateway.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new SMS sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.GatewayURL == "" {
			return nil, errors.New("sms sender: gateway URL is required when enabled")
		}
		if config.FromNumber == "" {
			return nil, errors.New("sms sender: from number is required when enabled")
		}
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	slog.Info("sms sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

type gatewayPayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// Send sends an SMS notification. notification.To holds the phone number;
// the subject is dropped since SMS has no subject line.
func (s *Sender) Send(ctx context.Context, notification notify.Notification) error {
	if !s.config.Enabled {
		slog.Debug("sms sender disabled, skipping", "to", notification.To)
		return nil
	}
	if notification.To == "" {
		return &notify.PermanentError{Message: "phone number is empty"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(gatewayPayload{
		To:      notification.To,
		From:    s.config.FromNumber,
		Message: notification.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &notify.RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		slog.Debug("sms sent via gateway")
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid gateway credentials",
		}

	case resp.StatusCode == http.StatusBadRequest:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", string(body)),
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &notify.RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited by gateway",
		}

	case resp.StatusCode >= 500:
		return &notify.RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("gateway error: %s", string(body)),
		}

	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zapcast/zapcast/config"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
)

type gatewaySendRequest struct {
	ChannelID   uint                `json:"channel_id"`
	Recipient   string              `json:"recipient"`
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type gatewaySendResponse struct {
	OK          bool    `json:"ok"`
	ErrorKind   *string `json:"error_kind,omitempty"`
	Description *string `json:"description,omitempty"`
}

type gatewayStatusResponse struct {
	ChannelID uint   `json:"channel_id"`
	Status    string `json:"status"`
}

// HTTPChannelGateway implements ChannelSender against the channel provider's
// HTTP API.
type HTTPChannelGateway struct {
	cfg    config.GatewayConfig
	client *http.Client
}

func NewHTTPChannelGateway(cfg config.GatewayConfig) *HTTPChannelGateway {
	return &HTTPChannelGateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.SendTimeout,
		},
	}
}

// Send transmits one message. Transient provider failures (timeouts, 5xx) are
// retried with backoff; a disconnected chip is reported immediately as
// ErrChannelUnavailable so the caller can pause the campaign.
func (g *HTTPChannelGateway) Send(ctx context.Context, channelID uint, recipientAddress, text string, attachments models.AttachmentList) error {
	payload := gatewaySendRequest{
		ChannelID:   channelID,
		Recipient:   recipientAddress,
		Text:        text,
		Attachments: attachments,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	retryCfg := utils.RetryConfig{
		MaxAttempts:  g.cfg.SendRetries,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Deadline:     time.Duration(maxInt(g.cfg.SendRetries, 1)) * g.cfg.SendTimeout,
		Retryable: func(err error) bool {
			return !errors.Is(err, ErrChannelUnavailable) && !errors.Is(err, ErrSendRejected)
		},
	}

	return utils.Retry(ctx, retryCfg, func(ctx context.Context) error {
		return g.sendOnce(ctx, body)
	})
}

func (g *HTTPChannelGateway) sendOnce(ctx context.Context, body []byte) error {
	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/api/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway send read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway send status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out gatewaySendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("gateway send decode: %w", err)
	}
	if out.OK {
		return nil
	}

	kind := ""
	if out.ErrorKind != nil {
		kind = *out.ErrorKind
	}
	desc := ""
	if out.Description != nil {
		desc = *out.Description
	}
	switch kind {
	case "channel_unavailable", "disconnected":
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, desc)
	case "rejected", "invalid_recipient":
		return fmt.Errorf("%w: %s", ErrSendRejected, desc)
	default:
		return fmt.Errorf("gateway send failed (%s): %s", kind, desc)
	}
}

// ChannelStatus asks the provider for a chip's connectivity state.
func (g *HTTPChannelGateway) ChannelStatus(ctx context.Context, channelID uint) (models.ChannelStatus, error) {
	url := fmt.Sprintf("%s/api/v1/channels/%d/status", strings.TrimRight(g.cfg.BaseURL, "/"), channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out gatewayStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway status decode: %w", err)
	}

	status := models.ChannelStatus(out.Status)
	if !status.Valid() {
		return "", fmt.Errorf("gateway reported unknown channel status %q", out.Status)
	}
	return status, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

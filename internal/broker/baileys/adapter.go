// Package baileys implements the broker adapter for Baileys-gateway-style
// backends: instance-scoped REST send endpoints and instance/event/data
// webhook envelopes.
package baileys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
	"go.uber.org/zap"
)

// Adapter talks to a Baileys gateway. Credentials on the ConnectionRef hold
// the gateway API key; the instance name is the connection id.
type Adapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Baileys gateway adapter.
func New(baseURL string, client *http.Client, logger *zap.Logger) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{baseURL: baseURL, client: client, logger: logger}
}

// BrokerType identifies this adapter in the registry.
func (a *Adapter) BrokerType() model.BrokerType { return model.BrokerBaileys }

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendMediaRequest struct {
	Number   string `json:"number"`
	MediaURL string `json:"mediaUrl"`
	Caption  string `json:"caption,omitempty"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// SendText sends a plain text message.
func (a *Adapter) SendText(ctx context.Context, ref broker.ConnectionRef, to, text string) (*model.CanonicalMessage, error) {
	id, err := a.post(ctx, ref, "sendText", sendTextRequest{Number: to, Text: text})
	if err != nil {
		return nil, err
	}
	return outbound(id, ref.ID, to, model.TypeText, text, ""), nil
}

// SendMedia sends a media message referenced by URL.
func (a *Adapter) SendMedia(ctx context.Context, ref broker.ConnectionRef, to, mediaURL, caption string) (*model.CanonicalMessage, error) {
	id, err := a.post(ctx, ref, "sendMedia", sendMediaRequest{Number: to, MediaURL: mediaURL, Caption: caption})
	if err != nil {
		return nil, err
	}
	return outbound(id, ref.ID, to, model.TypeImage, caption, mediaURL), nil
}

func outbound(id, connectionID, to string, typ model.MessageType, content, mediaURL string) *model.CanonicalMessage {
	return &model.CanonicalMessage{
		ID:           id,
		ConnectionID: connectionID,
		To:           to,
		Type:         typ,
		Content:      content,
		MediaURL:     mediaURL,
		Timestamp:    time.Now().UnixMilli(),
		Direction:    model.DirectionOutbound,
		Status:       model.StatusSent,
	}
}

func (a *Adapter) post(ctx context.Context, ref broker.ConnectionRef, endpoint string, payload any) (string, error) {
	const op = "baileys.send"

	body, err := json.Marshal(payload)
	if err != nil {
		return "", broker.Wrap(broker.ClassPermanent, op, err)
	}

	url := fmt.Sprintf("%s/message/%s/%s", a.baseURL, endpoint, ref.ID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", broker.Wrap(broker.ClassPermanent, op, err)
	}
	httpReq.Header.Set("apikey", ref.Credentials)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", broker.Wrap(broker.ClassTransient, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", broker.Errorf(broker.ClassTransient, op, "rate limited")
	case resp.StatusCode >= 500:
		return "", broker.Errorf(broker.ClassTransient, op, "gateway error: %s", resp.Status)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		a.logger.Warn("baileys gateway rejected send", zap.Int("status", resp.StatusCode), zap.ByteString("body", msg))
		return "", broker.Errorf(broker.ClassPermanent, op, "rejected: %s", resp.Status)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", broker.Wrap(broker.ClassTransient, op, err)
	}
	if out.Key.ID == "" {
		return "", broker.Errorf(broker.ClassTransient, op, "response carried no message id")
	}
	return out.Key.ID, nil
}

// CheckHealth probes the gateway root.
func (a *Adapter) CheckHealth(ctx context.Context) (broker.Health, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		return broker.Health{Healthy: false, LatencyMs: -1}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return broker.Health{Healthy: false, LatencyMs: -1}, nil
	}
	_ = resp.Body.Close()
	return broker.Health{
		Healthy:   resp.StatusCode < 500,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Package cloudapi implements the broker adapter for hosted Cloud-API-style
// gateways: graph-style send endpoints and entry/changes/value webhook
// envelopes.
package cloudapi

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

// Adapter talks to a Cloud API backend. Credentials on the ConnectionRef
// hold "<phoneNumberID>:<accessToken>".
type Adapter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Cloud API adapter. client may be nil, in which case a
// default with a 15s timeout is used.
func New(baseURL string, client *http.Client, logger *zap.Logger) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{baseURL: baseURL, client: client, logger: logger}
}

// BrokerType identifies this adapter in the registry.
func (a *Adapter) BrokerType() model.BrokerType { return model.BrokerCloudAPI }

type sendRequest struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             *textBody  `json:"text,omitempty"`
	Image            *mediaBody `json:"image,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a plain text message through the Cloud API.
func (a *Adapter) SendText(ctx context.Context, ref broker.ConnectionRef, to, text string) (*model.CanonicalMessage, error) {
	req := sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: text},
	}
	id, err := a.post(ctx, ref, req)
	if err != nil {
		return nil, err
	}
	return outbound(id, ref.ID, to, model.TypeText, text, ""), nil
}

// SendMedia sends a media message referenced by URL.
func (a *Adapter) SendMedia(ctx context.Context, ref broker.ConnectionRef, to, mediaURL, caption string) (*model.CanonicalMessage, error) {
	req := sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "image",
		Image:            &mediaBody{Link: mediaURL, Caption: caption},
	}
	id, err := a.post(ctx, ref, req)
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

func (a *Adapter) post(ctx context.Context, ref broker.ConnectionRef, payload sendRequest) (string, error) {
	const op = "cloudapi.send"

	phoneID, token, ok := splitCredentials(ref.Credentials)
	if !ok {
		return "", broker.Errorf(broker.ClassPermanent, op, "malformed credentials for connection %s", ref.ID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", broker.Wrap(broker.ClassPermanent, op, err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.baseURL, phoneID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", broker.Wrap(broker.ClassPermanent, op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
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
		return "", broker.Errorf(broker.ClassTransient, op, "backend error: %s", resp.Status)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		a.logger.Warn("cloudapi rejected send", zap.Int("status", resp.StatusCode), zap.ByteString("body", msg))
		return "", broker.Errorf(broker.ClassPermanent, op, "rejected: %s", resp.Status)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", broker.Wrap(broker.ClassTransient, op, err)
	}
	if len(out.Messages) == 0 {
		return "", broker.Errorf(broker.ClassTransient, op, "response carried no message id")
	}
	return out.Messages[0].ID, nil
}

func splitCredentials(creds string) (phoneID, token string, ok bool) {
	for i := 0; i < len(creds); i++ {
		if creds[i] == ':' {
			return creds[:i], creds[i+1:], i > 0 && i < len(creds)-1
		}
	}
	return "", "", false
}

// CheckHealth probes the backend root. Latency is wall time for the probe.
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

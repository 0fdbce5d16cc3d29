package cloudapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
	"go.uber.org/zap"
)

const messageWebhook = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "waba-1",
		"changes": [{
			"field": "messages",
			"value": {
				"messages": [{
					"from": "5511999990000",
					"id": "wamid.ABC",
					"timestamp": "1717243200",
					"type": "text",
					"text": {"body": "hello there"}
				}]
			}
		}]
	}]
}`

const statusWebhook = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "waba-1",
		"changes": [{
			"field": "messages",
			"value": {
				"statuses": [{
					"id": "wamid.ABC",
					"status": "delivered",
					"timestamp": "1717243260"
				}]
			}
		}]
	}]
}`

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client(), zap.NewNop())
}

func TestDetect(t *testing.T) {
	a := New("http://unused", nil, zap.NewNop())

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"message webhook", messageWebhook, true},
		{"status webhook", statusWebhook, true},
		{"baileys-shaped payload", `{"instance":"c1","event":"messages.upsert","data":{}}`, false},
		{"invalid json", `{"object":`, false},
		{"empty object", `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Detect([]byte(tt.raw)); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMessage(t *testing.T) {
	a := New("http://unused", nil, zap.NewNop())

	evt, err := a.NormalizeWebhook([]byte(messageWebhook))
	if err != nil {
		t.Fatalf("NormalizeWebhook() error = %v", err)
	}
	if evt.Kind != model.MessageReceived {
		t.Errorf("kind = %q, want message.received", evt.Kind)
	}
	msg := evt.Message
	if msg.ID != "wamid.ABC" {
		t.Errorf("id = %q", msg.ID)
	}
	if msg.From != "5511999990000" {
		t.Errorf("from = %q", msg.From)
	}
	if msg.Content != "hello there" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Timestamp != 1717243200000 {
		t.Errorf("timestamp = %d", msg.Timestamp)
	}
	if msg.Direction != model.DirectionInbound {
		t.Errorf("direction = %q", msg.Direction)
	}
}

func TestNormalizeStatus(t *testing.T) {
	a := New("http://unused", nil, zap.NewNop())

	evt, err := a.NormalizeWebhook([]byte(statusWebhook))
	if err != nil {
		t.Fatalf("NormalizeWebhook() error = %v", err)
	}
	if evt.Kind != model.MessageStatusChanged {
		t.Errorf("kind = %q, want message.status_changed", evt.Kind)
	}
	if evt.StatusChange.MessageID != "wamid.ABC" {
		t.Errorf("message id = %q", evt.StatusChange.MessageID)
	}
	if evt.StatusChange.Status != model.StatusDelivered {
		t.Errorf("status = %q", evt.StatusChange.Status)
	}
}

func TestNormalizeIgnoredEnvelope(t *testing.T) {
	a := New("http://unused", nil, zap.NewNop())

	// Recognized shape, nothing actionable inside.
	raw := `{"object":"whatsapp_business_account","entry":[{"id":"w1","changes":[{"field":"account_update","value":{}}]}]}`
	evt, err := a.NormalizeWebhook([]byte(raw))
	if err != nil {
		t.Fatalf("NormalizeWebhook() error = %v", err)
	}
	if evt != nil {
		t.Errorf("event = %+v, want nil (intentionally ignored)", evt)
	}
}

func TestNormalizeParseFailure(t *testing.T) {
	a := New("http://unused", nil, zap.NewNop())

	_, err := a.NormalizeWebhook([]byte(`{"entry": "not an array"`))
	if broker.ClassOf(err) != broker.ClassValidation {
		t.Errorf("error class = %v, want validation", broker.ClassOf(err))
	}
}

func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.OUT1"}},
		})
	}))

	ref := broker.ConnectionRef{ID: "c1", BrokerType: model.BrokerCloudAPI, Credentials: "phone-42:secret-token"}
	msg, err := a.SendText(context.Background(), ref, "5511888880000", "hi")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if msg.ID != "wamid.OUT1" {
		t.Errorf("id = %q", msg.ID)
	}
	if msg.Direction != model.DirectionOutbound || msg.Status != model.StatusSent {
		t.Errorf("direction/status = %q/%q", msg.Direction, msg.Status)
	}
	if gotPath != "/phone-42/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth = %q", gotAuth)
	}
}

func TestSendErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   broker.ErrorClass
	}{
		{"rate limited", http.StatusTooManyRequests, broker.ClassTransient},
		{"backend error", http.StatusBadGateway, broker.ClassTransient},
		{"rejected", http.StatusBadRequest, broker.ClassPermanent},
		{"unauthorized", http.StatusUnauthorized, broker.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			ref := broker.ConnectionRef{ID: "c1", Credentials: "p:t"}
			_, err := a.SendText(context.Background(), ref, "x", "y")
			if broker.ClassOf(err) != tt.want {
				t.Errorf("error class = %v, want %v", broker.ClassOf(err), tt.want)
			}
		})
	}
}

func TestSendMalformedCredentials(t *testing.T) {
	a := New("http://unused", nil, zap.NewNop())
	ref := broker.ConnectionRef{ID: "c1", Credentials: "no-separator"}
	_, err := a.SendText(context.Background(), ref, "x", "y")
	if broker.ClassOf(err) != broker.ClassPermanent {
		t.Errorf("error class = %v, want permanent", broker.ClassOf(err))
	}
}

func TestCheckHealth(t *testing.T) {
	a := testAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h, err := a.CheckHealth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !h.Healthy {
		t.Error("Healthy = false, want true")
	}
	if h.LatencyMs < 0 {
		t.Errorf("latency = %d", h.LatencyMs)
	}
}

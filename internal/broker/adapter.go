// Package broker defines the contract every broker adapter implements and
// the error taxonomy shared across the core. Adapters own all translation of
// broker-specific field names, status vocabularies and media shapes; nothing
// outside an adapter may depend on a broker's payload format.
package broker

import (
	"context"

	"github.com/victorbrgs/omnibox/internal/model"
)

// ConnectionRef identifies the connection an operation targets, with the
// opaque credentials the adapter needs to call its broker.
type ConnectionRef struct {
	ID          string
	BrokerType  model.BrokerType
	Credentials string
}

// Health is the result of a single adapter health probe.
type Health struct {
	Healthy   bool
	LatencyMs int64
}

// Adapter translates canonical calls into one broker's wire protocol and
// that broker's webhooks into canonical events.
type Adapter interface {
	// BrokerType returns the stable identifier this adapter is registered under.
	BrokerType() model.BrokerType

	// SendText sends a plain text message.
	SendText(ctx context.Context, ref ConnectionRef, to, text string) (*model.CanonicalMessage, error)

	// SendMedia sends a media message referenced by URL, with an optional caption.
	SendMedia(ctx context.Context, ref ConnectionRef, to, mediaURL, caption string) (*model.CanonicalMessage, error)

	// CheckHealth probes the broker backend.
	CheckHealth(ctx context.Context) (Health, error)

	// NormalizeWebhook translates a raw webhook payload into a canonical
	// event. A (nil, nil) return means "recognized but intentionally
	// ignored"; a parse failure returns a ClassValidation error.
	NormalizeWebhook(raw []byte) (*model.CanonicalEvent, error)

	// Detect is a cheap structural test for whether raw looks like this
	// broker's payload. Side-effect-free, never panics.
	Detect(raw []byte) bool
}

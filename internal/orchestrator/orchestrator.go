// Package orchestrator routes outbound operations and webhook normalization
// across registered broker adapters: retry and fallback for sends, detection
// for unlabeled payloads, and concurrent health checking.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
	"go.uber.org/zap"
)

// Config tunes retry, fallback and health-check behavior.
type Config struct {
	EnableFallback bool
	FallbackOrder  []model.BrokerType
	MaxRetries     int
	RetryDelay     time.Duration
	HealthTimeout  time.Duration
	CacheEnabled   bool
	CacheTTL       time.Duration
}

type cachedHealth struct {
	results map[model.BrokerType]broker.Health
	at      time.Time
}

// Orchestrator holds the adapter registry and the send/normalize/health
// entry points. Construct one per process and inject it; no globals.
type Orchestrator struct {
	mu       sync.RWMutex
	adapters map[model.BrokerType]broker.Adapter

	cfg    Config
	logger *zap.Logger

	healthMu sync.Mutex
	health   *cachedHealth
}

// New creates an orchestrator with no adapters registered.
func New(cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Orchestrator{
		adapters: make(map[model.BrokerType]broker.Adapter),
		cfg:      cfg,
		logger:   logger,
	}
}

// Register upserts an adapter keyed by its broker type. Re-registering
// replaces the previous instance, so brokers can be reconfigured live.
func (o *Orchestrator) Register(a broker.Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.adapters[a.BrokerType()]; ok {
		o.logger.Info("adapter replaced", zap.String("broker", string(a.BrokerType())))
	}
	o.adapters[a.BrokerType()] = a
}

// Adapter returns the registered adapter for a broker type.
func (o *Orchestrator) Adapter(bt model.BrokerType) (broker.Adapter, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.adapters[bt]
	return a, ok
}

type sendFn func(ctx context.Context, a broker.Adapter) (*model.CanonicalMessage, error)

// SendText sends a plain text message. Transient failures are retried up to
// MaxRetries attempts with RetryDelay between them; if fallback is enabled
// the remaining broker types in FallbackOrder are tried once each. Text is
// the only broker-agnostic operation, so it is the only one allowed to
// fall back.
func (o *Orchestrator) SendText(ctx context.Context, ref broker.ConnectionRef, to, text string) (*model.CanonicalMessage, error) {
	return o.send(ctx, ref, true, func(ctx context.Context, a broker.Adapter) (*model.CanonicalMessage, error) {
		return a.SendText(ctx, ref, to, text)
	})
}

// SendMedia sends a media message. Media capability differs per broker, so
// a failing send is never rerouted to another broker type.
func (o *Orchestrator) SendMedia(ctx context.Context, ref broker.ConnectionRef, to, mediaURL, caption string) (*model.CanonicalMessage, error) {
	return o.send(ctx, ref, false, func(ctx context.Context, a broker.Adapter) (*model.CanonicalMessage, error) {
		return a.SendMedia(ctx, ref, to, mediaURL, caption)
	})
}

func (o *Orchestrator) send(ctx context.Context, ref broker.ConnectionRef, allowFallback bool, fn sendFn) (*model.CanonicalMessage, error) {
	primary, ok := o.Adapter(ref.BrokerType)
	if !ok {
		return nil, broker.Errorf(broker.ClassNotFound, "orchestrator.send", "no adapter for broker %q", ref.BrokerType)
	}

	var attempts []broker.AttemptError

	msg, attempts, err := o.attempt(ctx, primary, ref.BrokerType, o.cfg.MaxRetries, attempts, fn)
	if err == nil {
		return msg, nil
	}

	if allowFallback && o.cfg.EnableFallback {
		for _, bt := range o.cfg.FallbackOrder {
			if bt == ref.BrokerType {
				continue
			}
			a, ok := o.Adapter(bt)
			if !ok {
				continue
			}
			o.logger.Warn("falling back to alternate broker",
				zap.String("from", string(ref.BrokerType)),
				zap.String("to", string(bt)),
				zap.String("connection_id", ref.ID))
			msg, attempts, err = o.attempt(ctx, a, bt, 1, attempts, fn)
			if err == nil {
				return msg, nil
			}
		}
	}

	return nil, &broker.SendFailedError{Attempts: attempts}
}

// attempt runs up to maxAttempts calls against one adapter, sleeping
// RetryDelay between transient failures. No lock is held while sleeping.
func (o *Orchestrator) attempt(ctx context.Context, a broker.Adapter, bt model.BrokerType, maxAttempts int, attempts []broker.AttemptError, fn sendFn) (*model.CanonicalMessage, []broker.AttemptError, error) {
	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		msg, err := fn(ctx, a)
		if err == nil {
			return msg, attempts, nil
		}
		lastErr = err
		attempts = append(attempts, broker.AttemptError{Broker: bt, Attempt: i, Err: err})
		if !broker.Retryable(err) {
			break
		}
		if i < maxAttempts && o.cfg.RetryDelay > 0 {
			select {
			case <-time.After(o.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, attempts, ctx.Err()
			}
		}
	}
	return nil, attempts, lastErr
}

// Normalize translates a raw webhook payload into a canonical event. With a
// broker type hint it delegates directly; otherwise every registered
// adapter's Detect is consulted and exactly one must match.
func (o *Orchestrator) Normalize(raw []byte, hint model.BrokerType) (*model.CanonicalEvent, error) {
	if hint != "" {
		a, ok := o.Adapter(hint)
		if !ok {
			return nil, broker.Errorf(broker.ClassNotFound, "orchestrator.normalize", "no adapter for broker %q", hint)
		}
		return a.NormalizeWebhook(raw)
	}

	o.mu.RLock()
	var matches []broker.Adapter
	for _, a := range o.adapters {
		if a.Detect(raw) {
			matches = append(matches, a)
		}
	}
	o.mu.RUnlock()

	switch len(matches) {
	case 0:
		return nil, broker.Errorf(broker.ClassUnrecognized, "orchestrator.normalize", "no adapter recognizes payload (%d bytes)", len(raw))
	case 1:
		return matches[0].NormalizeWebhook(raw)
	default:
		types := make([]string, len(matches))
		for i, a := range matches {
			types[i] = string(a.BrokerType())
		}
		o.logger.Warn("ambiguous webhook payload",
			zap.Strings("candidates", types),
			zap.Int("payload_bytes", len(raw)))
		return nil, broker.Errorf(broker.ClassAmbiguous, "orchestrator.normalize", "payload matched adapters %v", types)
	}
}

// HealthCheckAll probes every registered adapter concurrently. A failing or
// hanging adapter reports {healthy:false, latencyMs:-1}; it never stalls the
// aggregate past its own timeout. Results are cached for CacheTTL when
// caching is enabled.
func (o *Orchestrator) HealthCheckAll(ctx context.Context) map[model.BrokerType]broker.Health {
	if o.cfg.CacheEnabled {
		o.healthMu.Lock()
		if o.health != nil && time.Since(o.health.at) < o.cfg.CacheTTL {
			cached := make(map[model.BrokerType]broker.Health, len(o.health.results))
			for k, v := range o.health.results {
				cached[k] = v
			}
			o.healthMu.Unlock()
			return cached
		}
		o.healthMu.Unlock()
	}

	o.mu.RLock()
	adapters := make(map[model.BrokerType]broker.Adapter, len(o.adapters))
	for bt, a := range o.adapters {
		adapters[bt] = a
	}
	o.mu.RUnlock()

	results := make(map[model.BrokerType]broker.Health, len(adapters))
	var resMu sync.Mutex
	var wg sync.WaitGroup

	for bt, a := range adapters {
		wg.Add(1)
		go func(bt model.BrokerType, a broker.Adapter) {
			defer wg.Done()
			h := o.checkOne(ctx, a)
			resMu.Lock()
			results[bt] = h
			resMu.Unlock()
		}(bt, a)
	}
	wg.Wait()

	if o.cfg.CacheEnabled {
		o.healthMu.Lock()
		o.health = &cachedHealth{results: results, at: time.Now()}
		o.healthMu.Unlock()
	}

	out := make(map[model.BrokerType]broker.Health, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) checkOne(ctx context.Context, a broker.Adapter) broker.Health {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.HealthTimeout)
	defer cancel()

	type result struct {
		h   broker.Health
		err error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := a.CheckHealth(ctx)
		ch <- result{h, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return broker.Health{Healthy: false, LatencyMs: -1}
		}
		return r.h
	case <-ctx.Done():
		// Adapter ignored its deadline; report it down without waiting.
		return broker.Health{Healthy: false, LatencyMs: -1}
	}
}

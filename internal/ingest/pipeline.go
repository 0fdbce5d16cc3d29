// Package ingest is the webhook ingestion pipeline: raw broker payloads come
// in, canonical events come out the other side — normalized, persisted under
// the conversation lock and fanned out on the bus.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/bus"
	"github.com/victorbrgs/omnibox/internal/lock"
	"github.com/victorbrgs/omnibox/internal/model"
	"github.com/victorbrgs/omnibox/internal/store"
	"go.uber.org/zap"
)

// Normalizer translates raw payloads into canonical events. Satisfied by
// *orchestrator.Orchestrator.
type Normalizer interface {
	Normalize(raw []byte, hint model.BrokerType) (*model.CanonicalEvent, error)
}

// Sessions is the slice of the session manager the pipeline drives.
type Sessions interface {
	ApplyMessage(contactID, organizationID string, msg *model.CanonicalMessage) (*model.Session, error)
	ApplyStatusChange(connectionID, msgID string, to model.MessageStatus) error
}

// Connections resolves connection records and the messages they carry.
type Connections interface {
	Connection(id string) (*model.Connection, error)
	Message(connectionID, msgID string) (*model.CanonicalMessage, error)
}

// StatusMachine applies connection lifecycle transitions.
type StatusMachine interface {
	Transition(connectionID string, to model.ConnectionStatus, reason string) error
}

// Pipeline processes one webhook delivery end to end. Deliveries for the
// same conversation serialize on the advisory lock; everything else runs
// concurrently.
type Pipeline struct {
	normalizer  Normalizer
	sessions    Sessions
	machine     StatusMachine
	store       Connections
	locks       *lock.Registry
	bus         *bus.Bus
	logger      *zap.Logger
	lockTimeout time.Duration
}

// New creates an ingestion pipeline.
func New(n Normalizer, sessions Sessions, machine StatusMachine, conns Connections, locks *lock.Registry, b *bus.Bus, lockTimeout time.Duration, logger *zap.Logger) *Pipeline {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Pipeline{
		normalizer:  n,
		sessions:    sessions,
		machine:     machine,
		store:       conns,
		locks:       locks,
		bus:         b,
		logger:      logger,
		lockTimeout: lockTimeout,
	}
}

// Ingest handles one raw webhook delivery addressed to a connection. The
// returned event is nil when the payload was recognized but carries nothing
// this inbox acts on. hint, when non-empty, bypasses payload detection.
func (p *Pipeline) Ingest(ctx context.Context, connectionID string, raw []byte, hint model.BrokerType) (*model.CanonicalEvent, error) {
	const op = "ingest"

	logger := p.logger.With(
		zap.String("trace_id", uuid.NewString()),
		zap.String("connection_id", connectionID))

	conn, err := p.store.Connection(connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, broker.Errorf(broker.ClassNotFound, op, "unknown connection %q", connectionID)
		}
		return nil, err
	}

	evt, err := p.normalizer.Normalize(raw, hint)
	if err != nil {
		logger.Warn("webhook rejected",
			zap.String("class", string(broker.ClassOf(err))),
			zap.Error(err))
		return nil, err
	}
	if evt == nil {
		logger.Debug("webhook carried no actionable event", zap.Int("payload_bytes", len(raw)))
		return nil, nil
	}

	// The route, not the payload, decides which connection this belongs to.
	evt.ConnectionID = connectionID
	if !evt.Valid() {
		return nil, broker.Errorf(broker.ClassValidation, op, "event payload does not match kind %q", evt.Kind)
	}

	switch evt.Kind {
	case model.MessageReceived, model.MessageSent:
		return evt, p.applyMessage(ctx, conn, evt, logger)
	case model.MessageStatusChanged:
		return evt, p.applyStatusChange(ctx, conn, evt, logger)
	case model.ConnectionStatusChanged:
		return evt, p.machine.Transition(connectionID, evt.Connection.Status, evt.Connection.Reason)
	case model.QrCodeUpdated:
		// A pairing code on offer means the channel is waiting on a scan.
		if err := p.machine.Transition(connectionID, model.ConnQRPending, "pairing code issued"); err != nil {
			return nil, err
		}
		p.publish(conn, "", evt)
		return evt, nil
	case model.EventError:
		logger.Warn("broker reported error",
			zap.String("code", evt.Err.Code),
			zap.String("message", evt.Err.Message))
		p.publish(conn, "", evt)
		return evt, nil
	default:
		return nil, broker.Errorf(broker.ClassValidation, op, "unhandled event kind %q", evt.Kind)
	}
}

// RecordOutbound persists a message the API layer just sent and fans it out,
// taking the same conversation lock webhook deliveries take. The broker's
// own sent-webhook for the message later dedupes against this row.
func (p *Pipeline) RecordOutbound(ctx context.Context, connectionID string, msg *model.CanonicalMessage) (*model.CanonicalEvent, error) {
	conn, err := p.store.Connection(connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, broker.Errorf(broker.ClassNotFound, "ingest", "unknown connection %q", connectionID)
		}
		return nil, err
	}
	evt := &model.CanonicalEvent{
		Kind:         model.MessageSent,
		ConnectionID: connectionID,
		OccurredAt:   time.UnixMilli(msg.Timestamp),
		Message:      msg,
	}
	logger := p.logger.With(
		zap.String("trace_id", uuid.NewString()),
		zap.String("connection_id", connectionID))
	return evt, p.applyMessage(ctx, conn, evt, logger)
}

func (p *Pipeline) applyMessage(ctx context.Context, conn *model.Connection, evt *model.CanonicalEvent, logger *zap.Logger) error {
	msg := evt.Message
	msg.ConnectionID = conn.ID
	contact := contactOf(msg)
	if contact == "" {
		return broker.Errorf(broker.ClassValidation, "ingest", "message %q has no contact party", msg.ID)
	}

	release, err := p.acquire(ctx, contact, conn.ID)
	if err != nil {
		return err
	}
	defer release()

	sess, err := p.sessions.ApplyMessage(contact, conn.OrganizationID, msg)
	if err != nil {
		return err
	}

	logger.Info("message ingested",
		zap.String("msg_id", msg.ID),
		zap.String("session_id", sess.ID),
		zap.String("direction", string(msg.Direction)))

	p.publish(conn, sess.ID, evt)
	return nil
}

func (p *Pipeline) applyStatusChange(ctx context.Context, conn *model.Connection, evt *model.CanonicalEvent, logger *zap.Logger) error {
	change := evt.StatusChange

	msg, err := p.store.Message(conn.ID, change.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Status for a message this inbox never saw. Nothing to update.
			logger.Debug("status change for unknown message", zap.String("msg_id", change.MessageID))
			return nil
		}
		return err
	}

	release, err := p.acquire(ctx, contactOf(msg), conn.ID)
	if err != nil {
		return err
	}
	defer release()

	if err := p.sessions.ApplyStatusChange(conn.ID, change.MessageID, change.Status); err != nil {
		return err
	}

	p.publish(conn, "", evt)
	return nil
}

// acquire takes the per-conversation lock, bounding the wait with the
// configured timeout. A timed-out wait surfaces as a transient class so the
// broker redelivers.
func (p *Pipeline) acquire(ctx context.Context, contactID, connectionID string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, p.lockTimeout)
	release, err := p.locks.Acquire(ctx, lock.Key(contactID, connectionID))
	if err != nil {
		cancel()
		if errors.Is(err, lock.ErrTimeout) {
			return nil, broker.Wrap(broker.ClassLockTimeout, "ingest", err)
		}
		return nil, err
	}
	return func() {
		release()
		cancel()
	}, nil
}

func (p *Pipeline) publish(conn *model.Connection, sessionID string, evt *model.CanonicalEvent) {
	p.bus.Publish(bus.FromCanonical(bus.ConnectionTopic(conn.ID), evt))
	if conn.OrganizationID != "" {
		p.bus.Publish(bus.FromCanonical(bus.OrgTopic(conn.OrganizationID), evt))
	}
	if sessionID != "" {
		p.bus.Publish(bus.FromCanonical(bus.SessionTopic(sessionID), evt))
	}
}

// contactOf is the remote party of a message: the sender for inbound, the
// recipient for outbound.
func contactOf(m *model.CanonicalMessage) string {
	if m.Direction == model.DirectionOutbound {
		return m.To
	}
	return m.From
}

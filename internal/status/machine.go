// Package status enforces connection lifecycle transitions and records each
// one as an append-only connection event.
package status

import (
	"slices"
	"sync"
	"time"

	"github.com/victorbrgs/omnibox/internal/bus"
	"github.com/victorbrgs/omnibox/internal/model"
	"go.uber.org/zap"
)

// validTransitions defines allowed connection status transitions. Webhook
// brokers report remote state we did not initiate, so a disconnected or
// errored connection may jump straight to qr_pending or connected.
var validTransitions = map[model.ConnectionStatus][]model.ConnectionStatus{
	model.ConnDisconnected: {model.ConnConnecting, model.ConnQRPending, model.ConnConnected, model.ConnError},
	model.ConnConnecting:   {model.ConnQRPending, model.ConnConnected, model.ConnDisconnected, model.ConnError},
	model.ConnQRPending:    {model.ConnConnected, model.ConnDisconnected, model.ConnError},
	model.ConnConnected:    {model.ConnDisconnected, model.ConnError},
	model.ConnError:        {model.ConnConnecting, model.ConnQRPending, model.ConnConnected, model.ConnDisconnected},
}

// Store is the persistence the machine needs.
type Store interface {
	Connection(id string) (*model.Connection, error)
	UpdateConnectionStatus(id string, status model.ConnectionStatus) error
	AppendConnectionEvent(e *model.ConnectionEvent) error
}

// Machine tracks and enforces per-connection status transitions. Webhook
// deliveries may race, so each transition is checked under one mutex.
type Machine struct {
	mu     sync.Mutex
	store  Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewMachine creates a connection status machine.
func NewMachine(store Store, b *bus.Bus, logger *zap.Logger) *Machine {
	return &Machine{
		store:  store,
		bus:    b,
		logger: logger,
	}
}

// Transition moves a connection to a new status, appends the audit event and
// publishes the change. A transition to the current status is a no-op, which
// absorbs redelivered connection webhooks.
func (m *Machine) Transition(connectionID string, to model.ConnectionStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.store.Connection(connectionID)
	if err != nil {
		return err
	}
	from := conn.Status
	if from == to {
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		// A stale or out-of-order broker report. Dropping it instead of
		// erroring keeps the gateway from redelivering forever.
		m.logger.Warn("connection status transition dropped",
			zap.String("connection_id", connectionID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("reason", reason))
		return nil
	}

	if err := m.store.UpdateConnectionStatus(connectionID, to); err != nil {
		return err
	}
	if err := m.store.AppendConnectionEvent(&model.ConnectionEvent{
		ConnectionID: connectionID,
		EventType:    "status_change",
		FromStatus:   from,
		ToStatus:     to,
		Reason:       reason,
		Metadata:     "{}",
		CreatedAt:    time.Now(),
	}); err != nil {
		m.logger.Warn("failed to append connection event", zap.Error(err),
			zap.String("connection_id", connectionID))
	}

	m.logger.Info("connection status changed",
		zap.String("connection_id", connectionID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))

	if m.bus != nil {
		evt := &model.CanonicalEvent{
			Kind:         model.ConnectionStatusChanged,
			ConnectionID: connectionID,
			OccurredAt:   time.Now(),
			Connection:   &model.ConnectionStatusPayload{Status: to, Reason: reason},
		}
		m.bus.Publish(bus.FromCanonical(bus.ConnectionTopic(connectionID), evt))
		m.bus.Publish(bus.FromCanonical(bus.OrgTopic(conn.OrganizationID), evt))
	}
	return nil
}

// Current returns the connection's persisted status.
func (m *Machine) Current(connectionID string) (model.ConnectionStatus, error) {
	conn, err := m.store.Connection(connectionID)
	if err != nil {
		return "", err
	}
	return conn.Status, nil
}

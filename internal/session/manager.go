// Package session owns the lifecycle of conversation sessions between a
// contact and a connection: creation, activation, closing, auto-response
// blocking with lazy expiry, and tagging. It is the single writer of
// session state; everything else only reads.
package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/victorbrgs/omnibox/internal/model"
	"go.uber.org/zap"
)

// Store is the persistence the manager needs. *store.DB satisfies it; tests
// use an in-memory implementation.
type Store interface {
	OpenSession(contactID, connectionID string) (*model.Session, error)
	Session(id string) (*model.Session, error)
	CreateSession(s *model.Session) error
	UpdateSession(s *model.Session) error
	ExpiredBlocks(now time.Time) ([]*model.Session, error)

	InsertMessage(m *model.CanonicalMessage, sessionID string) (bool, error)
	Message(connectionID, msgID string) (*model.CanonicalMessage, error)
	UpdateMessageStatus(connectionID, msgID string, status model.MessageStatus) error
}

// Manager mutates session state. All webhook-driven calls happen under the
// per-conversation advisory lock held by the ingestion pipeline.
type Manager struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// GetOrCreate finds the non-closed session for a contact+connection pair,
// creating one in queued state if none exists. lastMessageAt is refreshed
// either way.
func (m *Manager) GetOrCreate(contactID, connectionID, organizationID string) (*model.Session, error) {
	return m.getOrCreate(contactID, connectionID, organizationID, m.now())
}

func (m *Manager) getOrCreate(contactID, connectionID, organizationID string, at time.Time) (*model.Session, error) {
	s, err := m.store.OpenSession(contactID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}
	if s == nil {
		s = &model.Session{
			ID:                  uuid.NewString(),
			ContactID:           contactID,
			ConnectionID:        connectionID,
			OrganizationID:      organizationID,
			Status:              model.SessionQueued,
			LastMessageAt:       at,
			AutoResponseEnabled: true,
			Tags:                []string{},
		}
		if err := m.store.CreateSession(s); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		m.logger.Info("session created",
			zap.String("session_id", s.ID),
			zap.String("contact_id", contactID),
			zap.String("connection_id", connectionID))
		return s, nil
	}
	if at.After(s.LastMessageAt) {
		s.LastMessageAt = at
		if err := m.store.UpdateSession(s); err != nil {
			return nil, fmt.Errorf("refresh session: %w", err)
		}
	}
	return s, nil
}

// ApplyMessage records one canonical message against the contact's session.
// Idempotent on the message id: a redelivered message neither duplicates the
// row nor moves lastMessageAt a second time. First activity moves a queued
// session to active.
func (m *Manager) ApplyMessage(contactID, organizationID string, msg *model.CanonicalMessage) (*model.Session, error) {
	at := time.UnixMilli(msg.Timestamp)
	s, err := m.getOrCreate(contactID, msg.ConnectionID, organizationID, at)
	if err != nil {
		return nil, err
	}

	inserted, err := m.store.InsertMessage(msg, s.ID)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if !inserted {
		m.logger.Debug("duplicate message delivery ignored",
			zap.String("msg_id", msg.ID),
			zap.String("connection_id", msg.ConnectionID))
		return s, nil
	}

	if s.Status == model.SessionQueued {
		s.Status = model.SessionActive
		if err := m.store.UpdateSession(s); err != nil {
			return nil, fmt.Errorf("activate session: %w", err)
		}
	}
	return s, nil
}

// ApplyStatusChange moves a stored message's delivery status forward. Out of
// order or repeated status webhooks that would regress the status are ignored.
func (m *Manager) ApplyStatusChange(connectionID, msgID string, to model.MessageStatus) error {
	cur, err := m.store.Message(connectionID, msgID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !model.CanTransition(cur.Status, to) {
		m.logger.Debug("ignoring non-forward status change",
			zap.String("msg_id", msgID),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(to)))
		return nil
	}
	if err := m.store.UpdateMessageStatus(connectionID, msgID, to); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// Close marks a session closed. Closing is terminal.
func (m *Manager) Close(sessionID string) error {
	s, err := m.store.Session(sessionID)
	if err != nil {
		return err
	}
	if s.Status == model.SessionClosed {
		return nil
	}
	s.Status = model.SessionClosed
	return m.store.UpdateSession(s)
}

// BlockAutoResponse suppresses automated replies for the session for the
// given number of minutes, recording why.
func (m *Manager) BlockAutoResponse(sessionID string, durationMinutes int, reason string) error {
	s, err := m.store.Session(sessionID)
	if err != nil {
		return err
	}
	until := m.now().Add(time.Duration(durationMinutes) * time.Minute)
	s.AutoResponseEnabled = false
	s.AutoResponseBlockedUntil = &until
	s.AutoResponseBlockReason = reason
	if err := m.store.UpdateSession(s); err != nil {
		return err
	}
	m.logger.Info("auto-response blocked",
		zap.String("session_id", sessionID),
		zap.Int("minutes", durationMinutes),
		zap.String("reason", reason))
	return nil
}

// UnblockAutoResponse clears the block fields.
func (m *Manager) UnblockAutoResponse(sessionID string) error {
	s, err := m.store.Session(sessionID)
	if err != nil {
		return err
	}
	return m.unblock(s)
}

func (m *Manager) unblock(s *model.Session) error {
	s.AutoResponseEnabled = true
	s.AutoResponseBlockedUntil = nil
	s.AutoResponseBlockReason = ""
	return m.store.UpdateSession(s)
}

// IsAutoResponseBlocked reports whether automated replies are currently
// suppressed. A lapsed block is lifted (and persisted) on read, so the
// answer is correct even when no sweep has run yet.
func (m *Manager) IsAutoResponseBlocked(sessionID string) (bool, error) {
	s, err := m.store.Session(sessionID)
	if err != nil {
		return false, err
	}
	if s.AutoResponseEnabled {
		return false, nil
	}
	if s.AutoResponseBlockedUntil != nil && !m.now().Before(*s.AutoResponseBlockedUntil) {
		if err := m.unblock(s); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// AddTags unions the given tags into the session's tag set.
func (m *Manager) AddTags(sessionID string, tags ...string) error {
	s, err := m.store.Session(sessionID)
	if err != nil {
		return err
	}
	changed := false
	for _, tag := range tags {
		if !slices.Contains(s.Tags, tag) {
			s.Tags = append(s.Tags, tag)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.store.UpdateSession(s)
}

// RemoveTags removes the given tags from the session's tag set.
func (m *Manager) RemoveTags(sessionID string, tags ...string) error {
	s, err := m.store.Session(sessionID)
	if err != nil {
		return err
	}
	before := len(s.Tags)
	s.Tags = slices.DeleteFunc(s.Tags, func(t string) bool {
		return slices.Contains(tags, t)
	})
	if len(s.Tags) == before {
		return nil
	}
	return m.store.UpdateSession(s)
}

// SweepExpiredBlocks eagerly unblocks every session whose block has lapsed,
// bounding staleness for sessions that are never read again. Returns how
// many were unblocked.
func (m *Manager) SweepExpiredBlocks() (int, error) {
	expired, err := m.store.ExpiredBlocks(m.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range expired {
		if err := m.unblock(s); err != nil {
			m.logger.Warn("failed to unblock session", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		count++
	}
	if count > 0 {
		m.logger.Info("expired auto-response blocks swept", zap.Int("count", count))
	}
	return count, nil
}

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/victorbrgs/omnibox/internal/model"
)

// OpenSession returns the non-closed session for a contact+connection pair,
// or (nil, nil) if none exists.
func (db *DB) OpenSession(contactID, connectionID string) (*model.Session, error) {
	s, err := db.scanSession(db.QueryRow(sessionSelect+`
		WHERE contact_id = ? AND connection_id = ? AND status != 'closed'`,
		contactID, connectionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Session returns the session with the given id.
func (db *DB) Session(id string) (*model.Session, error) {
	s, err := db.scanSession(db.QueryRow(sessionSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// CreateSession inserts a new session row. The partial unique index on
// (contact_id, connection_id) rejects a second open session for the pair.
func (db *DB) CreateSession(s *model.Session) error {
	now := time.Now().UnixMilli()
	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO sessions (id, contact_id, connection_id, organization_id, status,
			last_message_at, auto_response_enabled, auto_response_blocked_until,
			auto_response_block_reason, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ContactID, s.ConnectionID, s.OrganizationID, s.Status,
		s.LastMessageAt.UnixMilli(), s.AutoResponseEnabled, nullableMillis(s.AutoResponseBlockedUntil),
		s.AutoResponseBlockReason, string(tags), now, now)
	return err
}

// UpdateSession persists all mutable session fields.
func (db *DB) UpdateSession(s *model.Session) error {
	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return err
	}
	res, err := db.Exec(`
		UPDATE sessions SET
			status = ?,
			last_message_at = ?,
			auto_response_enabled = ?,
			auto_response_blocked_until = ?,
			auto_response_block_reason = ?,
			tags = ?,
			updated_at = ?
		WHERE id = ?`,
		s.Status, s.LastMessageAt.UnixMilli(), s.AutoResponseEnabled,
		nullableMillis(s.AutoResponseBlockedUntil), s.AutoResponseBlockReason,
		string(tags), time.Now().UnixMilli(), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpiredBlocks returns sessions whose auto-response block has lapsed but is
// still recorded as active.
func (db *DB) ExpiredBlocks(now time.Time) ([]*model.Session, error) {
	rows, err := db.Query(sessionSelect+`
		WHERE auto_response_enabled = 0
		  AND auto_response_blocked_until IS NOT NULL
		  AND auto_response_blocked_until <= ?`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*model.Session
	for rows.Next() {
		s, err := db.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

const sessionSelect = `
	SELECT id, contact_id, connection_id, organization_id, status,
		last_message_at, auto_response_enabled, auto_response_blocked_until,
		auto_response_block_reason, tags
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	var lastMsgMs int64
	var blockedUntil sql.NullInt64
	var tags string
	err := row.Scan(&s.ID, &s.ContactID, &s.ConnectionID, &s.OrganizationID, &s.Status,
		&lastMsgMs, &s.AutoResponseEnabled, &blockedUntil, &s.AutoResponseBlockReason, &tags)
	if err != nil {
		return nil, err
	}
	s.LastMessageAt = time.UnixMilli(lastMsgMs)
	if blockedUntil.Valid {
		t := time.UnixMilli(blockedUntil.Int64)
		s.AutoResponseBlockedUntil = &t
	}
	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		return nil, err
	}
	return &s, nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

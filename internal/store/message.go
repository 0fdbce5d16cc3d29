package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/victorbrgs/omnibox/internal/model"
)

// InsertMessage stores a canonical message, keyed by (connection_id, msg_id).
// Returns false without error when the message already exists, which is how
// duplicate webhook deliveries collapse into one row.
func (db *DB) InsertMessage(m *model.CanonicalMessage, sessionID string) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO messages (msg_id, connection_id, session_id, from_jid, to_jid, is_group,
			message_type, content, media_url, timestamp, direction, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(connection_id, msg_id) DO NOTHING`,
		m.ID, m.ConnectionID, sessionID, m.From, m.To, m.IsGroup,
		m.Type, m.Content, m.MediaURL, m.Timestamp, m.Direction, m.Status, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Message returns one message by its broker-assigned id within a connection.
func (db *DB) Message(connectionID, msgID string) (*model.CanonicalMessage, error) {
	var m model.CanonicalMessage
	err := db.QueryRow(`
		SELECT msg_id, connection_id, from_jid, to_jid, is_group, message_type,
			content, media_url, timestamp, direction, status
		FROM messages WHERE connection_id = ? AND msg_id = ?`, connectionID, msgID).
		Scan(&m.ID, &m.ConnectionID, &m.From, &m.To, &m.IsGroup, &m.Type,
			&m.Content, &m.MediaURL, &m.Timestamp, &m.Direction, &m.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageStatus sets a message's delivery status. Callers enforce the
// monotonic transition rule before writing; the session lock serializes them.
func (db *DB) UpdateMessageStatus(connectionID, msgID string, status model.MessageStatus) error {
	res, err := db.Exec(`
		UPDATE messages SET status = ? WHERE connection_id = ? AND msg_id = ?`,
		status, connectionID, msgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionMessages returns messages for a session using keyset pagination.
func (db *DB) SessionMessages(sessionID string, beforeTs int64, limit int) ([]model.CanonicalMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT msg_id, connection_id, from_jid, to_jid, is_group, message_type,
			content, media_url, timestamp, direction, status
		FROM messages
		WHERE session_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, sessionID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.CanonicalMessage
	for rows.Next() {
		var m model.CanonicalMessage
		if err := rows.Scan(&m.ID, &m.ConnectionID, &m.From, &m.To, &m.IsGroup, &m.Type,
			&m.Content, &m.MediaURL, &m.Timestamp, &m.Direction, &m.Status); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

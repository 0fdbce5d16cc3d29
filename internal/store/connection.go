package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/victorbrgs/omnibox/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// UpsertConnection inserts or updates a connection by id.
func (db *DB) UpsertConnection(c *model.Connection) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO connections (id, broker_type, organization_id, credentials, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			broker_type = excluded.broker_type,
			organization_id = excluded.organization_id,
			credentials = excluded.credentials,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.ID, c.BrokerType, c.OrganizationID, c.Credentials, c.Status, now, now)
	return err
}

// Connection returns the connection with the given id.
func (db *DB) Connection(id string) (*model.Connection, error) {
	var c model.Connection
	err := db.QueryRow(`
		SELECT id, broker_type, organization_id, credentials, status
		FROM connections WHERE id = ?`, id).
		Scan(&c.ID, &c.BrokerType, &c.OrganizationID, &c.Credentials, &c.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConnections returns all configured connections.
func (db *DB) ListConnections() ([]model.Connection, error) {
	rows, err := db.Query(`
		SELECT id, broker_type, organization_id, credentials, status
		FROM connections ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var conns []model.Connection
	for rows.Next() {
		var c model.Connection
		if err := rows.Scan(&c.ID, &c.BrokerType, &c.OrganizationID, &c.Credentials, &c.Status); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// UpdateConnectionStatus sets the connection's lifecycle status.
func (db *DB) UpdateConnectionStatus(id string, status model.ConnectionStatus) error {
	res, err := db.Exec(`
		UPDATE connections SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendConnectionEvent records one lifecycle transition. Rows are write-once.
func (db *DB) AppendConnectionEvent(e *model.ConnectionEvent) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO connection_events (connection_id, event_type, from_status, to_status, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ConnectionID, e.EventType, e.FromStatus, e.ToStatus, e.Reason, e.Metadata, created.UnixMilli())
	return err
}

// ConnectionEvents returns the audit trail for one connection, newest first.
func (db *DB) ConnectionEvents(connectionID string, limit int) ([]model.ConnectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, connection_id, event_type, from_status, to_status, reason, metadata, created_at
		FROM connection_events
		WHERE connection_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []model.ConnectionEvent
	for rows.Next() {
		var e model.ConnectionEvent
		var createdMs int64
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.EventType, &e.FromStatus, &e.ToStatus, &e.Reason, &e.Metadata, &createdMs); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdMs)
		events = append(events, e)
	}
	return events, rows.Err()
}

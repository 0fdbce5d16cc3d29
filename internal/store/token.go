package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/victorbrgs/omnibox/internal/model"
)

// CreateShareToken stores a new share token.
func (db *DB) CreateShareToken(t *model.ShareToken) error {
	_, err := db.Exec(`
		INSERT INTO share_tokens (token, connection_id, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.ConnectionID, t.ExpiresAt.UnixMilli(), nullableMillis(t.UsedAt), time.Now().UnixMilli())
	return err
}

// ShareToken returns one token by value.
func (db *DB) ShareToken(token string) (*model.ShareToken, error) {
	var t model.ShareToken
	var expiresMs int64
	var usedMs sql.NullInt64
	err := db.QueryRow(`
		SELECT token, connection_id, expires_at, used_at
		FROM share_tokens WHERE token = ?`, token).
		Scan(&t.Token, &t.ConnectionID, &expiresMs, &usedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = time.UnixMilli(expiresMs)
	if usedMs.Valid {
		u := time.UnixMilli(usedMs.Int64)
		t.UsedAt = &u
	}
	return &t, nil
}

// MarkShareTokenUsed stamps used_at. Informational only; the token stays
// valid until expiry.
func (db *DB) MarkShareTokenUsed(token string, at time.Time) error {
	res, err := db.Exec(`
		UPDATE share_tokens SET used_at = ? WHERE token = ?`, at.UnixMilli(), token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredShareTokens removes tokens past their expiry and returns how
// many were deleted.
func (db *DB) DeleteExpiredShareTokens(now time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM share_tokens WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

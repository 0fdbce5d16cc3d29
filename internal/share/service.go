// Package share issues short-lived tokens that let someone outside the
// organization fetch a connection's pairing QR code without credentials.
package share

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
	"github.com/victorbrgs/omnibox/internal/store"
	"go.uber.org/zap"
)

const defaultExpiryHours = 24

// Store is the persistence the service needs. *store.DB satisfies it.
type Store interface {
	Connection(id string) (*model.Connection, error)
	CreateShareToken(t *model.ShareToken) error
	ShareToken(token string) (*model.ShareToken, error)
	MarkShareTokenUsed(token string, at time.Time) error
	DeleteExpiredShareTokens(now time.Time) (int64, error)
}

// Grant is what the caller hands out: the token, the URL embedding it and
// when it stops working.
type Grant struct {
	Token        string    `json:"token"`
	URL          string    `json:"url"`
	ConnectionID string    `json:"connectionId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Service mints and validates share tokens.
type Service struct {
	store   Store
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a share token service. baseURL is the externally reachable
// prefix share links are built on.
func New(store Store, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

// Generate mints a token for a connection. expiresInHours <= 0 falls back to
// the default expiry.
func (s *Service) Generate(connectionID string, expiresInHours int) (*Grant, error) {
	const op = "share.generate"

	if _, err := s.store.Connection(connectionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, broker.Errorf(broker.ClassNotFound, op, "unknown connection %q", connectionID)
		}
		return nil, err
	}

	if expiresInHours <= 0 {
		expiresInHours = defaultExpiryHours
	}
	token := &model.ShareToken{
		Token:        uuid.NewString(),
		ConnectionID: connectionID,
		ExpiresAt:    s.now().Add(time.Duration(expiresInHours) * time.Hour),
	}
	if err := s.store.CreateShareToken(token); err != nil {
		return nil, fmt.Errorf("create share token: %w", err)
	}

	s.logger.Info("share token issued",
		zap.String("connection_id", connectionID),
		zap.Time("expires_at", token.ExpiresAt))

	return &Grant{
		Token:        token.Token,
		URL:          s.baseURL + "/share/" + token.Token,
		ConnectionID: connectionID,
		ExpiresAt:    token.ExpiresAt,
	}, nil
}

// Validate resolves a token and stamps its first use. Unknown and expired
// tokens are indistinguishable to the caller.
func (s *Service) Validate(token string) (*model.ShareToken, error) {
	const op = "share.validate"

	t, err := s.store.ShareToken(token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, broker.Errorf(broker.ClassNotFound, op, "token not found")
		}
		return nil, err
	}
	if t.Expired(s.now()) {
		return nil, broker.Errorf(broker.ClassNotFound, op, "token not found")
	}
	if t.UsedAt == nil {
		if err := s.store.MarkShareTokenUsed(token, s.now()); err != nil {
			s.logger.Warn("failed to stamp token use", zap.Error(err))
		}
	}
	return t, nil
}

// QRPNG renders content as a PNG QR code of size x size pixels.
func (s *Service) QRPNG(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}

// Sweep deletes expired tokens and returns how many were removed.
func (s *Service) Sweep() (int64, error) {
	n, err := s.store.DeleteExpiredShareTokens(s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired share tokens swept", zap.Int64("count", n))
	}
	return n, nil
}

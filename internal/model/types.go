package model

import "time"

// BrokerType identifies one broker implementation.
type BrokerType string

const (
	BrokerCloudAPI BrokerType = "cloudapi"
	BrokerBaileys  BrokerType = "baileys"
	BrokerMeow     BrokerType = "meow"
)

// ConnectionStatus is the lifecycle status of a broker-backed channel.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnConnecting   ConnectionStatus = "connecting"
	ConnQRPending    ConnectionStatus = "qr_pending"
	ConnConnected    ConnectionStatus = "connected"
	ConnError        ConnectionStatus = "error"
)

// Connection is one organization channel bound to a broker.
type Connection struct {
	ID             string
	BrokerType     BrokerType
	OrganizationID string
	Credentials    string // opaque per broker
	Status         ConnectionStatus
}

// SessionStatus is the lifecycle status of a conversation session.
type SessionStatus string

const (
	SessionQueued SessionStatus = "queued"
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is a bounded conversation window between a contact and a
// connection. At most one non-closed session exists per (ContactID,
// ConnectionID) pair. Mutated by the session manager only.
type Session struct {
	ID                       string
	ContactID                string
	ConnectionID             string
	OrganizationID           string
	Status                   SessionStatus
	LastMessageAt            time.Time
	AutoResponseEnabled      bool
	AutoResponseBlockedUntil *time.Time
	AutoResponseBlockReason  string
	Tags                     []string
}

// ConnectionEvent is an append-only audit record of a connection lifecycle
// transition. Write-once.
type ConnectionEvent struct {
	ID           int64
	ConnectionID string
	EventType    string
	FromStatus   ConnectionStatus
	ToStatus     ConnectionStatus
	Reason       string
	Metadata     string
	CreatedAt    time.Time
}

// ShareToken is a short-lived credential for unauthenticated QR retrieval.
// UsedAt is informational; a token stays valid until ExpiresAt.
type ShareToken struct {
	Token        string
	ConnectionID string
	ExpiresAt    time.Time
	UsedAt       *time.Time
}

// Expired reports whether the token is past its expiry.
func (t *ShareToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

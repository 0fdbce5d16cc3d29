package model

import "time"

// EventKind identifies what a broker reported.
type EventKind string

const (
	MessageReceived         EventKind = "message.received"
	MessageSent             EventKind = "message.sent"
	MessageStatusChanged    EventKind = "message.status_changed"
	ConnectionStatusChanged EventKind = "connection.status_changed"
	QrCodeUpdated           EventKind = "connection.qr_updated"
	EventError              EventKind = "error"
)

// CanonicalEvent is the broker-agnostic representation of anything a broker
// reports. The payload variant must match Kind; exactly one of Message,
// StatusChange, Connection, QR or Err is set. Events are immutable once built.
type CanonicalEvent struct {
	Kind         EventKind
	ConnectionID string
	OccurredAt   time.Time

	Message      *CanonicalMessage
	StatusChange *StatusChangePayload
	Connection   *ConnectionStatusPayload
	QR           *QRPayload
	Err          *ErrorPayload
}

// StatusChangePayload reports a delivery status update for an existing message.
type StatusChangePayload struct {
	MessageID string
	Status    MessageStatus
}

// ConnectionStatusPayload reports a connection lifecycle change.
type ConnectionStatusPayload struct {
	Status ConnectionStatus
	Reason string
}

// QRPayload carries a fresh pairing QR code.
type QRPayload struct {
	Code string
}

// ErrorPayload carries a broker-reported error.
type ErrorPayload struct {
	Code    string
	Message string
}

// Valid reports whether the payload variant matches the event kind.
func (e *CanonicalEvent) Valid() bool {
	switch e.Kind {
	case MessageReceived, MessageSent:
		return e.Message != nil
	case MessageStatusChanged:
		return e.StatusChange != nil
	case ConnectionStatusChanged:
		return e.Connection != nil
	case QrCodeUpdated:
		return e.QR != nil
	case EventError:
		return e.Err != nil
	}
	return false
}

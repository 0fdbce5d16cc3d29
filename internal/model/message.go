package model

// MessageDirection distinguishes inbound from outbound traffic.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageType identifies the content kind of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeLocation MessageType = "location"
	TypeSticker  MessageType = "sticker"
	TypeContact  MessageType = "contact"
	TypeUnknown  MessageType = "unknown"
)

// MessageStatus is the delivery status of a message.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the forward delivery sequence. failed is reachable from
// any state and terminal.
var statusRank = map[MessageStatus]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a status change from -> to is allowed.
// Delivery status only moves forward (queued -> sent -> delivered -> read);
// any non-failed state may move to failed.
func CanTransition(from, to MessageStatus) bool {
	if from == to {
		return false
	}
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// CanonicalMessage is the normalized message shared by every component
// outside the adapters. Only Status mutates after construction, and only
// forward per CanTransition.
type CanonicalMessage struct {
	ID           string
	ConnectionID string
	From         string
	To           string
	IsGroup      bool
	Type         MessageType
	Content      string
	MediaURL     string
	Timestamp    int64 // unix millis
	Direction    MessageDirection
	Status       MessageStatus
}

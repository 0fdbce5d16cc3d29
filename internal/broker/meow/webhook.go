package meow

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
)

const sourceMarker = "meow"

const (
	kindMessage    = "message"
	kindStatus     = "status"
	kindConnection = "connection"
	kindQR         = "qr"
)

// envelope is the internal webhook shape the adapter emits for its own live
// events and consumes again in NormalizeWebhook.
type envelope struct {
	Source     string           `json:"source"`
	Kind       string           `json:"kind"`
	Message    *messageFrame    `json:"message,omitempty"`
	Status     *statusFrame     `json:"status,omitempty"`
	Connection *connectionFrame `json:"connection,omitempty"`
	QR         *qrFrame         `json:"qr,omitempty"`
}

type messageFrame struct {
	ID        string `json:"id"`
	ChatJID   string `json:"chatJid"`
	SenderJID string `json:"senderJid"`
	FromMe    bool   `json:"fromMe"`
	IsGroup   bool   `json:"isGroup"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type statusFrame struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type connectionFrame struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

type qrFrame struct {
	Code string `json:"code"`
}

// Detect reports whether raw is one of this adapter's own envelopes.
func (a *Adapter) Detect(raw []byte) bool {
	var probe struct {
		Source string `json:"source"`
		Kind   string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Source == sourceMarker && probe.Kind != ""
}

var statusVocabulary = map[string]model.MessageStatus{
	"sent":      model.StatusSent,
	"delivered": model.StatusDelivered,
	"read":      model.StatusRead,
	"failed":    model.StatusFailed,
}

var stateVocabulary = map[string]model.ConnectionStatus{
	"connected":    model.ConnConnected,
	"connecting":   model.ConnConnecting,
	"disconnected": model.ConnDisconnected,
	"error":        model.ConnError,
}

// NormalizeWebhook translates an internal envelope into a canonical event.
func (a *Adapter) NormalizeWebhook(raw []byte) (*model.CanonicalEvent, error) {
	const op = "meow.normalize"

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, broker.Wrap(broker.ClassValidation, op, err)
	}
	if env.Source != sourceMarker {
		return nil, broker.Errorf(broker.ClassValidation, op, "not a direct-channel envelope")
	}

	switch env.Kind {
	case kindMessage:
		if env.Message == nil || env.Message.ID == "" {
			return nil, broker.Errorf(broker.ClassValidation, op, "message frame missing id")
		}
		return a.normalizeMessage(env.Message), nil
	case kindStatus:
		if env.Status == nil || env.Status.MessageID == "" {
			return nil, broker.Errorf(broker.ClassValidation, op, "status frame missing message id")
		}
		status, ok := statusVocabulary[env.Status.Status]
		if !ok {
			return nil, nil
		}
		return &model.CanonicalEvent{
			Kind:       model.MessageStatusChanged,
			OccurredAt: time.Now(),
			StatusChange: &model.StatusChangePayload{
				MessageID: env.Status.MessageID,
				Status:    status,
			},
		}, nil
	case kindConnection:
		if env.Connection == nil {
			return nil, broker.Errorf(broker.ClassValidation, op, "connection frame missing")
		}
		status, ok := stateVocabulary[env.Connection.State]
		if !ok {
			return nil, nil
		}
		return &model.CanonicalEvent{
			Kind:       model.ConnectionStatusChanged,
			OccurredAt: time.Now(),
			Connection: &model.ConnectionStatusPayload{Status: status, Reason: env.Connection.Reason},
		}, nil
	case kindQR:
		if env.QR == nil {
			return nil, broker.Errorf(broker.ClassValidation, op, "qr frame missing")
		}
		return &model.CanonicalEvent{
			Kind:       model.QrCodeUpdated,
			OccurredAt: time.Now(),
			QR:         &model.QRPayload{Code: env.QR.Code},
		}, nil
	default:
		// Envelope kinds this inbox does not act on.
		return nil, nil
	}
}

func (a *Adapter) normalizeMessage(f *messageFrame) *model.CanonicalEvent {
	msgType := model.MessageType(f.Type)
	switch msgType {
	case model.TypeText, model.TypeImage, model.TypeAudio, model.TypeVideo,
		model.TypeDocument, model.TypeLocation, model.TypeSticker, model.TypeContact:
	default:
		msgType = model.TypeUnknown
	}

	msg := &model.CanonicalMessage{
		ID:        f.ID,
		IsGroup:   f.IsGroup,
		Type:      msgType,
		Content:   f.Body,
		Timestamp: f.Timestamp,
		Direction: model.DirectionInbound,
		Status:    model.StatusSent,
	}
	kind := model.MessageReceived
	if f.FromMe {
		// A message sent from the linked phone: the chat JID is the
		// recipient, not the sender.
		kind = model.MessageSent
		msg.Direction = model.DirectionOutbound
		msg.To = strings.TrimSuffix(f.ChatJID, "@s.whatsapp.net")
	} else {
		msg.From = strings.TrimSuffix(f.SenderJID, "@s.whatsapp.net")
	}
	return &model.CanonicalEvent{
		Kind:       kind,
		OccurredAt: time.UnixMilli(f.Timestamp),
		Message:    msg,
	}
}

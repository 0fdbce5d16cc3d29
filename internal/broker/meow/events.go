package meow

import (
	"encoding/json"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// handleEvent reframes live whatsmeow events as webhook envelopes and feeds
// them to the sink, so the pipeline treats the direct channel exactly like
// a webhook-delivering broker.
func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		a.emit(a.frameMessage(evt))
	case *events.Receipt:
		if frame, ok := a.frameReceipt(evt); ok {
			a.emit(frame)
		}
	case *events.Connected:
		a.logger.Info("direct channel connected", zap.String("connection_id", a.connectionID))
		a.emit(envelope{Source: sourceMarker, Kind: kindConnection, Connection: &connectionFrame{State: "connected"}})
	case *events.Disconnected:
		a.logger.Warn("direct channel disconnected", zap.String("connection_id", a.connectionID))
		a.emit(envelope{Source: sourceMarker, Kind: kindConnection, Connection: &connectionFrame{State: "disconnected"}})
	case *events.LoggedOut:
		a.logger.Warn("direct channel logged out",
			zap.String("connection_id", a.connectionID),
			zap.String("reason", evt.Reason.String()))
		a.emit(envelope{Source: sourceMarker, Kind: kindConnection, Connection: &connectionFrame{State: "disconnected", Reason: evt.Reason.String()}})
	}
}

func (a *Adapter) frameMessage(evt *events.Message) envelope {
	return envelope{
		Source: sourceMarker,
		Kind:   kindMessage,
		Message: &messageFrame{
			ID:        evt.Info.ID,
			ChatJID:   evt.Info.Chat.String(),
			SenderJID: evt.Info.Sender.String(),
			FromMe:    evt.Info.IsFromMe,
			IsGroup:   evt.Info.IsGroup,
			Body:      extractTextBody(evt.Message),
			Type:      detectMessageType(evt.Message),
			Timestamp: evt.Info.Timestamp.UnixMilli(),
		},
	}
}

func (a *Adapter) frameReceipt(evt *events.Receipt) (envelope, bool) {
	var status string
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = "delivered"
	case types.ReceiptTypeRead:
		status = "read"
	default:
		return envelope{}, false
	}
	if len(evt.MessageIDs) == 0 {
		return envelope{}, false
	}
	return envelope{
		Source: sourceMarker,
		Kind:   kindStatus,
		Status: &statusFrame{MessageID: evt.MessageIDs[0], Status: status},
	}, true
}

func (a *Adapter) emit(env envelope) {
	if a.sink == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		a.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	a.sink(a.connectionID, raw)
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

package baileys

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
)

// envelope is the gateway webhook shape: instance/event/data.
type envelope struct {
	Instance string          `json:"instance"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

type messageData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string `json:"pushName"`
	MessageTimestamp int64  `json:"messageTimestamp"`
	Message          struct {
		Conversation string `json:"conversation"`
		ImageMessage *struct {
			URL     string `json:"url"`
			Caption string `json:"caption"`
		} `json:"imageMessage"`
		AudioMessage    *struct{} `json:"audioMessage"`
		VideoMessage    *struct{} `json:"videoMessage"`
		DocumentMessage *struct{} `json:"documentMessage"`
	} `json:"message"`
}

type statusData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		ID        string `json:"id"`
	} `json:"key"`
	Update struct {
		Status int `json:"status"`
	} `json:"update"`
}

type connectionData struct {
	State string `json:"state"`
}

type qrData struct {
	QRCode struct {
		Code string `json:"code"`
	} `json:"qrcode"`
}

// Detect reports whether raw looks like a gateway webhook: a JSON object
// carrying instance and event fields.
func (a *Adapter) Detect(raw []byte) bool {
	var probe struct {
		Instance string `json:"instance"`
		Event    string `json:"event"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Instance != "" && probe.Event != ""
}

// ackVocabulary maps the gateway's numeric ack levels onto canonical status.
var ackVocabulary = map[int]model.MessageStatus{
	1: model.StatusQueued,
	2: model.StatusSent,
	3: model.StatusDelivered,
	4: model.StatusRead,
}

// stateVocabulary maps the gateway's connection states onto canonical status.
var stateVocabulary = map[string]model.ConnectionStatus{
	"open":       model.ConnConnected,
	"connecting": model.ConnConnecting,
	"close":      model.ConnDisconnected,
}

// NormalizeWebhook translates a gateway webhook into a canonical event.
// Events this inbox does not act on (presence, contact sync) return
// (nil, nil).
func (a *Adapter) NormalizeWebhook(raw []byte) (*model.CanonicalEvent, error) {
	const op = "baileys.normalize"

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, broker.Wrap(broker.ClassValidation, op, err)
	}
	if env.Event == "" {
		return nil, broker.Errorf(broker.ClassValidation, op, "envelope has no event field")
	}

	switch env.Event {
	case "messages.upsert":
		var d messageData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, broker.Wrap(broker.ClassValidation, op, err)
		}
		return a.normalizeMessage(d)
	case "messages.update":
		var d statusData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, broker.Wrap(broker.ClassValidation, op, err)
		}
		status, ok := ackVocabulary[d.Update.Status]
		if !ok || d.Key.ID == "" {
			return nil, nil
		}
		return &model.CanonicalEvent{
			Kind:       model.MessageStatusChanged,
			OccurredAt: time.Now(),
			StatusChange: &model.StatusChangePayload{
				MessageID: d.Key.ID,
				Status:    status,
			},
		}, nil
	case "connection.update":
		var d connectionData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, broker.Wrap(broker.ClassValidation, op, err)
		}
		status, ok := stateVocabulary[d.State]
		if !ok {
			return nil, nil
		}
		return &model.CanonicalEvent{
			Kind:       model.ConnectionStatusChanged,
			OccurredAt: time.Now(),
			Connection: &model.ConnectionStatusPayload{Status: status, Reason: "gateway " + d.State},
		}, nil
	case "qrcode.updated":
		var d qrData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, broker.Wrap(broker.ClassValidation, op, err)
		}
		return &model.CanonicalEvent{
			Kind:       model.QrCodeUpdated,
			OccurredAt: time.Now(),
			QR:         &model.QRPayload{Code: d.QRCode.Code},
		}, nil
	default:
		// Recognized envelope, event we do not act on.
		return nil, nil
	}
}

func (a *Adapter) normalizeMessage(d messageData) (*model.CanonicalEvent, error) {
	const op = "baileys.normalize"
	if d.Key.ID == "" || d.Key.RemoteJid == "" {
		return nil, broker.Errorf(broker.ClassValidation, op, "message missing key id or jid")
	}

	msg := &model.CanonicalMessage{
		ID:        d.Key.ID,
		IsGroup:   strings.HasSuffix(d.Key.RemoteJid, "@g.us"),
		Timestamp: d.MessageTimestamp * 1000,
		Direction: model.DirectionInbound,
		Status:    model.StatusSent,
	}
	// remoteJid is always the other party of the chat: the sender for
	// inbound, the recipient for outbound echoes.
	remote := strings.TrimSuffix(d.Key.RemoteJid, "@s.whatsapp.net")
	if d.Key.FromMe {
		msg.Direction = model.DirectionOutbound
		msg.To = remote
	} else {
		msg.From = remote
	}

	switch {
	case d.Message.Conversation != "":
		msg.Type = model.TypeText
		msg.Content = d.Message.Conversation
	case d.Message.ImageMessage != nil:
		msg.Type = model.TypeImage
		msg.Content = d.Message.ImageMessage.Caption
		msg.MediaURL = d.Message.ImageMessage.URL
	case d.Message.AudioMessage != nil:
		msg.Type = model.TypeAudio
	case d.Message.VideoMessage != nil:
		msg.Type = model.TypeVideo
	case d.Message.DocumentMessage != nil:
		msg.Type = model.TypeDocument
	default:
		msg.Type = model.TypeUnknown
	}

	kind := model.MessageReceived
	if d.Key.FromMe {
		kind = model.MessageSent
	}
	return &model.CanonicalEvent{
		Kind:       kind,
		OccurredAt: time.UnixMilli(msg.Timestamp),
		Message:    msg,
	}, nil
}

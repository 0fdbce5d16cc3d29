package cloudapi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
)

// envelope is the Cloud API webhook shape: entry/changes/value.
type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Messages []inboundMessage `json:"messages"`
	Statuses []statusUpdate   `json:"statuses"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *mediaRef `json:"image"`
	Audio    *mediaRef `json:"audio"`
	Video    *mediaRef `json:"video"`
	Document *mediaRef `json:"document"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

type mediaRef struct {
	ID      string `json:"id"`
	Link    string `json:"link"`
	Caption string `json:"caption"`
}

type statusUpdate struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Recipient string `json:"recipient_id"`
}

// Detect reports whether raw looks like a Cloud API webhook: a JSON object
// with a whatsapp business object marker and an entry array.
func (a *Adapter) Detect(raw []byte) bool {
	var probe struct {
		Object string          `json:"object"`
		Entry  json.RawMessage `json:"entry"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return strings.Contains(probe.Object, "whatsapp") && len(probe.Entry) > 0
}

// NormalizeWebhook translates a Cloud API webhook into a canonical event.
// Envelopes carrying neither messages nor statuses are recognized but
// intentionally ignored (nil, nil).
func (a *Adapter) NormalizeWebhook(raw []byte) (*model.CanonicalEvent, error) {
	const op = "cloudapi.normalize"

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, broker.Wrap(broker.ClassValidation, op, err)
	}
	if len(env.Entry) == 0 {
		return nil, broker.Errorf(broker.ClassValidation, op, "envelope has no entries")
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			if len(change.Value.Messages) > 0 {
				return a.normalizeMessage(change.Value.Messages[0])
			}
			if len(change.Value.Statuses) > 0 {
				return a.normalizeStatus(change.Value.Statuses[0])
			}
		}
	}
	// Recognized envelope carrying nothing we act on.
	return nil, nil
}

func (a *Adapter) normalizeMessage(m inboundMessage) (*model.CanonicalEvent, error) {
	const op = "cloudapi.normalize"
	if m.ID == "" || m.From == "" {
		return nil, broker.Errorf(broker.ClassValidation, op, "message missing id or sender")
	}

	msg := &model.CanonicalMessage{
		ID:        m.ID,
		From:      m.From,
		Timestamp: parseEpochSeconds(m.Timestamp),
		Direction: model.DirectionInbound,
		Status:    model.StatusSent,
	}

	switch m.Type {
	case "text":
		msg.Type = model.TypeText
		if m.Text != nil {
			msg.Content = m.Text.Body
		}
	case "image":
		msg.Type = model.TypeImage
		fillMedia(msg, m.Image)
	case "audio":
		msg.Type = model.TypeAudio
		fillMedia(msg, m.Audio)
	case "video":
		msg.Type = model.TypeVideo
		fillMedia(msg, m.Video)
	case "document":
		msg.Type = model.TypeDocument
		fillMedia(msg, m.Document)
	case "location":
		msg.Type = model.TypeLocation
		if m.Location != nil {
			msg.Content = strconv.FormatFloat(m.Location.Latitude, 'f', -1, 64) + "," +
				strconv.FormatFloat(m.Location.Longitude, 'f', -1, 64)
		}
	default:
		msg.Type = model.TypeUnknown
	}

	return &model.CanonicalEvent{
		Kind:       model.MessageReceived,
		OccurredAt: time.UnixMilli(msg.Timestamp),
		Message:    msg,
	}, nil
}

func fillMedia(msg *model.CanonicalMessage, ref *mediaRef) {
	if ref == nil {
		return
	}
	msg.MediaURL = ref.Link
	msg.Content = ref.Caption
}

// statusVocabulary maps the broker's status names onto canonical ones.
var statusVocabulary = map[string]model.MessageStatus{
	"sent":      model.StatusSent,
	"delivered": model.StatusDelivered,
	"read":      model.StatusRead,
	"failed":    model.StatusFailed,
}

func (a *Adapter) normalizeStatus(s statusUpdate) (*model.CanonicalEvent, error) {
	const op = "cloudapi.normalize"
	status, ok := statusVocabulary[s.Status]
	if !ok {
		// Recognized status we have no canonical equivalent for.
		return nil, nil
	}
	if s.ID == "" {
		return nil, broker.Errorf(broker.ClassValidation, op, "status update missing message id")
	}
	at := parseEpochSeconds(s.Timestamp)
	return &model.CanonicalEvent{
		Kind:       model.MessageStatusChanged,
		OccurredAt: time.UnixMilli(at),
		StatusChange: &model.StatusChangePayload{
			MessageID: s.ID,
			Status:    status,
		},
	}, nil
}

func parseEpochSeconds(s string) int64 {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return sec * 1000
}

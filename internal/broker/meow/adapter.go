// Package meow implements the direct-channel broker adapter on top of an
// embedded whatsmeow client: no external gateway, the process itself holds
// the WhatsApp device session. Live client events are reframed as webhook
// envelopes and fed through the same ingestion pipeline as every other
// broker, so idempotence and conversation locking apply uniformly.
package meow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Sink receives reframed webhook envelopes for one connection. The daemon
// wires it to the ingestion pipeline.
type Sink func(connectionID string, raw []byte)

// Adapter wraps the whatsmeow client for one direct-channel connection.
type Adapter struct {
	connectionID string
	client       *whatsmeow.Client
	container    *sqlstore.Container
	sink         Sink
	logger       *zap.Logger
}

// New creates a direct-channel adapter backed by a whatsmeow device store
// at dbPath.
func New(ctx context.Context, connectionID, dbPath string, sink Sink, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("omnibox", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	a := &Adapter{
		connectionID: connectionID,
		client:       client,
		container:    container,
		sink:         sink,
		logger:       logger,
	}
	client.AddEventHandler(a.handleEvent)
	return a, nil
}

// BrokerType identifies this adapter in the registry.
func (a *Adapter) BrokerType() model.BrokerType { return model.BrokerMeow }

// IsLoggedIn returns whether the device store holds valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection. If the device is not paired
// yet, the QR flow starts and pairing codes surface through the sink.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsLoggedIn() {
		a.logger.Info("connecting direct channel", zap.String("connection_id", a.connectionID))
		return a.client.Connect()
	}

	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	go a.pumpQR(qrChan)
	return nil
}

// pumpQR forwards pairing QR codes and outcomes as webhook envelopes.
func (a *Adapter) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			a.emit(envelope{Source: sourceMarker, Kind: kindQR, QR: &qrFrame{Code: item.Code}})
		case "success":
			a.logger.Info("direct channel paired", zap.String("connection_id", a.connectionID))
			a.emit(envelope{Source: sourceMarker, Kind: kindConnection, Connection: &connectionFrame{State: "connected", Reason: "paired"}})
			return
		case "timeout":
			a.emit(envelope{Source: sourceMarker, Kind: kindConnection, Connection: &connectionFrame{State: "error", Reason: "qr timeout"}})
			return
		default:
			if item.Error != nil {
				a.emit(envelope{Source: sourceMarker, Kind: kindConnection, Connection: &connectionFrame{State: "error", Reason: item.Error.Error()}})
				return
			}
		}
	}
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting direct channel", zap.String("connection_id", a.connectionID))
	a.client.Disconnect()
}

// Logout invalidates the device session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// SendText sends a text message over the direct channel.
func (a *Adapter) SendText(ctx context.Context, ref broker.ConnectionRef, to, text string) (*model.CanonicalMessage, error) {
	const op = "meow.sendText"

	jid, err := types.ParseJID(normalizeJID(to))
	if err != nil {
		return nil, broker.Wrap(broker.ClassPermanent, op, err)
	}
	resp, err := a.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return nil, broker.Wrap(classifySendErr(err), op, err)
	}
	return &model.CanonicalMessage{
		ID:           resp.ID,
		ConnectionID: ref.ID,
		To:           to,
		Type:         model.TypeText,
		Content:      text,
		Timestamp:    resp.Timestamp.UnixMilli(),
		Direction:    model.DirectionOutbound,
		Status:       model.StatusSent,
	}, nil
}

// SendMedia is not supported on the direct channel; the orchestrator's
// capability gate relies on this being permanent, never rerouted.
func (a *Adapter) SendMedia(_ context.Context, _ broker.ConnectionRef, _, _, _ string) (*model.CanonicalMessage, error) {
	return nil, broker.Errorf(broker.ClassPermanent, "meow.sendMedia", "direct channel does not support media uploads")
}

func classifySendErr(err error) broker.ErrorClass {
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return broker.ClassPermanent
	}
	return broker.ClassTransient
}

// CheckHealth reports whether the client holds a live, authenticated socket.
func (a *Adapter) CheckHealth(_ context.Context) (broker.Health, error) {
	start := time.Now()
	healthy := a.IsLoggedIn() && a.client.IsConnected()
	return broker.Health{
		Healthy:   healthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func normalizeJID(to string) string {
	for i := 0; i < len(to); i++ {
		if to[i] == '@' {
			return to
		}
	}
	return to + "@" + types.DefaultUserServer
}

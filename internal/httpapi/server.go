// Package httpapi is the outer HTTP surface: webhook intake, send and
// session operations, share links and live event streams.
package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/bus"
	"github.com/victorbrgs/omnibox/internal/model"
	"github.com/victorbrgs/omnibox/internal/share"
	"go.uber.org/zap"
)

// Ingestor is the webhook pipeline. *ingest.Pipeline satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, connectionID string, raw []byte, hint model.BrokerType) (*model.CanonicalEvent, error)
	RecordOutbound(ctx context.Context, connectionID string, msg *model.CanonicalMessage) (*model.CanonicalEvent, error)
}

// Sender routes outbound operations. *orchestrator.Orchestrator satisfies it.
type Sender interface {
	SendText(ctx context.Context, ref broker.ConnectionRef, to, text string) (*model.CanonicalMessage, error)
	SendMedia(ctx context.Context, ref broker.ConnectionRef, to, mediaURL, caption string) (*model.CanonicalMessage, error)
	HealthCheckAll(ctx context.Context) map[model.BrokerType]broker.Health
}

// Sessions is the slice of the session manager the API drives.
type Sessions interface {
	Close(sessionID string) error
	BlockAutoResponse(sessionID string, durationMinutes int, reason string) error
	UnblockAutoResponse(sessionID string) error
	IsAutoResponseBlocked(sessionID string) (bool, error)
	AddTags(sessionID string, tags ...string) error
	RemoveTags(sessionID string, tags ...string) error
}

// Store is the read/write surface the handlers need. *store.DB satisfies it.
type Store interface {
	UpsertConnection(c *model.Connection) error
	Connection(id string) (*model.Connection, error)
	ListConnections() ([]model.Connection, error)
	ConnectionEvents(connectionID string, limit int) ([]model.ConnectionEvent, error)
	Session(id string) (*model.Session, error)
	SessionMessages(sessionID string, beforeTs int64, limit int) ([]model.CanonicalMessage, error)
}

// Shares mints and validates share tokens. *share.Service satisfies it.
type Shares interface {
	Generate(connectionID string, expiresInHours int) (*share.Grant, error)
	Validate(token string) (*model.ShareToken, error)
	QRPNG(content string, size int) ([]byte, error)
}

// Options configures the server.
type Options struct {
	Addr        string
	VerifyToken string

	// VerifySecret, when set, requires webhook deliveries to carry a valid
	// X-Hub-Signature-256 header over the raw body.
	VerifySecret string
}

// Server wires the HTTP routes to the core.
type Server struct {
	opts     Options
	router   *gin.Engine
	server   *http.Server
	ingestor Ingestor
	sender   Sender
	sessions Sessions
	store    Store
	shares   Shares
	bus      *bus.Bus
	logger   *zap.Logger

	qrMu   sync.RWMutex
	qr     map[string]string
	qrStop chan struct{}
}

// NewServer creates the HTTP server. Routes are registered on Start.
func NewServer(opts Options, ingestor Ingestor, sender Sender, sessions Sessions, st Store, shares Shares, b *bus.Bus, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	return &Server{
		opts:     opts,
		router:   router,
		ingestor: ingestor,
		sender:   sender,
		sessions: sessions,
		store:    st,
		shares:   shares,
		bus:      b,
		logger:   logger,
		qr:       make(map[string]string),
		qrStop:   make(chan struct{}),
		server: &http.Server{
			Addr:    opts.Addr,
			Handler: router,
		},
	}
}

// Response is the generic API response envelope.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/webhooks/:connectionID", s.handleWebhookVerify)
	router.POST("/webhooks/:connectionID", s.handleWebhook)
	router.GET("/share/:token", s.handleShareQR)

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.POST("/connections", s.handleUpsertConnection)
		api.GET("/connections", s.handleListConnections)
		api.GET("/connections/:id", s.handleGetConnection)
		api.GET("/connections/:id/events", s.handleConnectionEvents)
		api.POST("/connections/:id/send", s.handleSend)
		api.POST("/connections/:id/share", s.handleCreateShare)
		api.GET("/connections/:id/stream", s.handleConnectionStream)

		api.GET("/sessions/:id", s.handleGetSession)
		api.GET("/sessions/:id/messages", s.handleSessionMessages)
		api.POST("/sessions/:id/close", s.handleCloseSession)
		api.POST("/sessions/:id/block", s.handleBlockSession)
		api.POST("/sessions/:id/unblock", s.handleUnblockSession)
		api.GET("/sessions/:id/blocked", s.handleSessionBlocked)
		api.POST("/sessions/:id/tags", s.handleSessionTags)
		api.GET("/sessions/:id/stream", s.handleSessionStream)

		api.GET("/orgs/:id/stream", s.handleOrgStream)
	}
}

// Start registers routes, begins tracking pairing codes and serves until
// Stop. Blocking.
func (s *Server) Start() error {
	s.registerRoutes(s.router)
	go s.watchQR()
	s.logger.Info("http server listening", zap.String("addr", s.opts.Addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	close(s.qrStop)
	return s.server.Shutdown(ctx)
}

// watchQR caches the latest pairing code per connection so share links can
// serve it without a broker round trip.
func (s *Server) watchQR() {
	ch, unsubscribe := s.bus.Subscribe(bus.Topic("connection:"), 64)
	defer unsubscribe()
	for {
		select {
		case evt := <-ch:
			if evt.Payload == nil || evt.Payload.Kind != model.QrCodeUpdated {
				continue
			}
			s.qrMu.Lock()
			s.qr[evt.Payload.ConnectionID] = evt.Payload.QR.Code
			s.qrMu.Unlock()
		case <-s.qrStop:
			return
		}
	}
}

func (s *Server) latestQR(connectionID string) (string, bool) {
	s.qrMu.RLock()
	defer s.qrMu.RUnlock()
	code, ok := s.qr[connectionID]
	return code, ok
}

// statusFor maps an error class to the HTTP status the caller sees.
func statusFor(err error) int {
	switch broker.ClassOf(err) {
	case broker.ClassValidation:
		return http.StatusBadRequest
	case broker.ClassNotFound:
		return http.StatusNotFound
	case broker.ClassUnrecognized, broker.ClassAmbiguous:
		return http.StatusUnprocessableEntity
	case broker.ClassLockTimeout, broker.ClassTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail renders an error. Server-side failures hide the underlying error text
// from the caller; a correlation id ties the response to the log line.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		c.JSON(status, Response{Success: false, Message: err.Error()})
		return
	}
	id := uuid.NewString()
	s.logger.Error("request failed",
		zap.String("correlation_id", id),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(status, Response{
		Success: false,
		Message: "request failed",
		Data:    gin.H{"correlationId": id},
	})
}

package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/victorbrgs/omnibox/internal/broker"
	"github.com/victorbrgs/omnibox/internal/model"
	"github.com/victorbrgs/omnibox/internal/store"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"brokers": s.sender.HealthCheckAll(c.Request.Context())},
	})
}

// ConnectionRequest is the request body for registering a connection.
type ConnectionRequest struct {
	ID             string `json:"id"`
	BrokerType     string `json:"brokerType"`
	OrganizationID string `json:"organizationId"`
	Credentials    string `json:"credentials"`
}

func (s *Server) handleUpsertConnection(c *gin.Context) {
	var req ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Invalid request body"})
		return
	}
	if req.ID == "" || req.BrokerType == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "id and brokerType are required"})
		return
	}
	switch model.BrokerType(req.BrokerType) {
	case model.BrokerCloudAPI, model.BrokerBaileys, model.BrokerMeow:
	default:
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "unknown broker type"})
		return
	}

	conn := &model.Connection{
		ID:             req.ID,
		BrokerType:     model.BrokerType(req.BrokerType),
		OrganizationID: req.OrganizationID,
		Credentials:    req.Credentials,
		Status:         model.ConnDisconnected,
	}
	if existing, err := s.store.Connection(req.ID); err == nil {
		// Re-registering must not wipe the live status.
		conn.Status = existing.Status
	}
	if err := s.store.UpsertConnection(conn); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: sanitize(conn)})
}

func (s *Server) handleListConnections(c *gin.Context) {
	conns, err := s.store.ListConnections()
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]gin.H, len(conns))
	for i := range conns {
		out[i] = sanitize(&conns[i])
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

func (s *Server) handleGetConnection(c *gin.Context) {
	conn, err := s.store.Connection(c.Param("id"))
	if err != nil {
		s.fail(c, notFoundAs(err, "connection"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: sanitize(conn)})
}

func (s *Server) handleConnectionEvents(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	events, err := s.store.ConnectionEvents(c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: events})
}

// SendRequest is the request body for outbound sends. Text and media are
// mutually exclusive.
type SendRequest struct {
	To       string `json:"to"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Invalid request body"})
		return
	}
	if req.To == "" || (req.Text == "" && req.MediaURL == "") {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "to and one of text or mediaUrl are required"})
		return
	}

	conn, err := s.store.Connection(c.Param("id"))
	if err != nil {
		s.fail(c, notFoundAs(err, "connection"))
		return
	}
	ref := broker.ConnectionRef{ID: conn.ID, BrokerType: conn.BrokerType, Credentials: conn.Credentials}

	var msg *model.CanonicalMessage
	if req.MediaURL != "" {
		msg, err = s.sender.SendMedia(c.Request.Context(), ref, req.To, req.MediaURL, req.Caption)
	} else {
		msg, err = s.sender.SendText(c.Request.Context(), ref, req.To, req.Text)
	}
	if err != nil {
		var sf *broker.SendFailedError
		if errors.As(err, &sf) {
			id := uuid.NewString()
			s.logger.Error("send exhausted all attempts",
				zap.String("correlation_id", id),
				zap.String("connection_id", conn.ID),
				zap.Int("attempts", len(sf.Attempts)),
				zap.Error(sf))
			c.JSON(http.StatusBadGateway, Response{
				Success: false,
				Message: "send failed",
				Data:    gin.H{"correlationId": id, "attempts": len(sf.Attempts)},
			})
			return
		}
		s.fail(c, err)
		return
	}

	if _, err := s.ingestor.RecordOutbound(c.Request.Context(), conn.ID, msg); err != nil {
		// The broker accepted the message; losing the local row is a
		// degraded success, not a failure.
		s.logger.Warn("sent message not recorded",
			zap.String("msg_id", msg.ID),
			zap.Error(err))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: msg})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.store.Session(c.Param("id"))
	if err != nil {
		s.fail(c, notFoundAs(err, "session"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: sess})
}

func (s *Server) handleSessionMessages(c *gin.Context) {
	before := int64(0)
	if v := c.Query("before"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			before = n
		}
	}
	msgs, err := s.store.SessionMessages(c.Param("id"), before, queryInt(c, "limit", 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: msgs})
}

func (s *Server) handleCloseSession(c *gin.Context) {
	if err := s.sessions.Close(c.Param("id")); err != nil {
		s.fail(c, notFoundAs(err, "session"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "Session closed"})
}

// BlockRequest is the request body for suppressing auto-responses.
type BlockRequest struct {
	DurationMinutes int    `json:"durationMinutes"`
	Reason          string `json:"reason"`
}

func (s *Server) handleBlockSession(c *gin.Context) {
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Invalid request body"})
		return
	}
	if req.DurationMinutes <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "durationMinutes must be positive"})
		return
	}
	if err := s.sessions.BlockAutoResponse(c.Param("id"), req.DurationMinutes, req.Reason); err != nil {
		s.fail(c, notFoundAs(err, "session"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "Auto-response blocked"})
}

func (s *Server) handleUnblockSession(c *gin.Context) {
	if err := s.sessions.UnblockAutoResponse(c.Param("id")); err != nil {
		s.fail(c, notFoundAs(err, "session"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "Auto-response unblocked"})
}

func (s *Server) handleSessionBlocked(c *gin.Context) {
	blocked, err := s.sessions.IsAutoResponseBlocked(c.Param("id"))
	if err != nil {
		s.fail(c, notFoundAs(err, "session"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"blocked": blocked}})
}

// TagsRequest is the request body for editing a session's tag set.
type TagsRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

func (s *Server) handleSessionTags(c *gin.Context) {
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Invalid request body"})
		return
	}
	id := c.Param("id")
	if len(req.Add) > 0 {
		if err := s.sessions.AddTags(id, req.Add...); err != nil {
			s.fail(c, notFoundAs(err, "session"))
			return
		}
	}
	if len(req.Remove) > 0 {
		if err := s.sessions.RemoveTags(id, req.Remove...); err != nil {
			s.fail(c, notFoundAs(err, "session"))
			return
		}
	}
	sess, err := s.store.Session(id)
	if err != nil {
		s.fail(c, notFoundAs(err, "session"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"tags": sess.Tags}})
}

// sanitize strips credentials before a connection leaves the API.
func sanitize(conn *model.Connection) gin.H {
	return gin.H{
		"id":             conn.ID,
		"brokerType":     conn.BrokerType,
		"organizationId": conn.OrganizationID,
		"status":         conn.Status,
	}
}

// notFoundAs reclassifies a store miss so statusFor maps it to 404.
func notFoundAs(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return broker.Errorf(broker.ClassNotFound, "api", "%s not found", what)
	}
	return err
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

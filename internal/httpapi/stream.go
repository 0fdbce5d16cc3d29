package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/victorbrgs/omnibox/internal/bus"
	"github.com/victorbrgs/omnibox/internal/model"
)

const (
	streamBuffer      = 64
	heartbeatInterval = 15 * time.Second
)

// streamFrame is one SSE data payload.
type streamFrame struct {
	Name      string                `json:"name"`
	Timestamp time.Time             `json:"timestamp"`
	Event     *model.CanonicalEvent `json:"event"`
}

func (s *Server) handleConnectionStream(c *gin.Context) {
	s.stream(c, bus.ConnectionTopic(c.Param("id")))
}

func (s *Server) handleOrgStream(c *gin.Context) {
	s.stream(c, bus.OrgTopic(c.Param("id")))
}

func (s *Server) handleSessionStream(c *gin.Context) {
	s.stream(c, bus.SessionTopic(c.Param("id")))
}

// stream serves one topic as server-sent events until the client goes away.
// Heartbeat comments keep idle proxies from cutting the connection.
func (s *Server) stream(c *gin.Context, topic bus.Topic) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Message: "streaming unsupported"})
		return
	}

	ch, unsubscribe := s.bus.Subscribe(topic, streamBuffer)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt := <-ch:
			data, err := json.Marshal(streamFrame{
				Name:      evt.Name,
				Timestamp: evt.Timestamp,
				Event:     evt.Payload,
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", evt.Name, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

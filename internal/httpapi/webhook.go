package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/victorbrgs/omnibox/internal/model"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// handleWebhook receives one raw broker delivery. The optional ?broker=
// query names the payload dialect; without it every adapter's detector is
// consulted.
func (s *Server) handleWebhook(c *gin.Context) {
	connectionID := c.Param("connectionID")

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "unreadable body"})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "empty body"})
		return
	}

	if s.opts.VerifySecret != "" && !validSignature(raw, c.GetHeader("X-Hub-Signature-256"), s.opts.VerifySecret) {
		s.logger.Warn("webhook signature rejected", zap.String("connection_id", connectionID))
		c.JSON(http.StatusForbidden, Response{Success: false, Message: "invalid signature"})
		return
	}

	hint := model.BrokerType(c.Query("broker"))

	evt, err := s.ingestor.Ingest(c.Request.Context(), connectionID, raw, hint)
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("connection_id", connectionID),
			zap.Error(err))
		s.fail(c, err)
		return
	}
	if evt == nil {
		c.JSON(http.StatusOK, Response{Success: true, Message: "ignored"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"kind": evt.Kind}})
}

// handleWebhookVerify answers the subscription handshake some brokers
// perform: echo the challenge when the verify token matches.
func (s *Server) handleWebhookVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || s.opts.VerifyToken == "" || token != s.opts.VerifyToken {
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// validSignature checks an sha256= HMAC header over the raw body.
func validSignature(raw []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hmac.Equal(mac.Sum(nil), want)
}

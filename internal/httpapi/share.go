package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ShareRequest is the request body for minting a share link.
type ShareRequest struct {
	ExpiresInHours int `json:"expiresInHours"`
}

func (s *Server) handleCreateShare(c *gin.Context) {
	var req ShareRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Message: "Invalid request body"})
		return
	}
	grant, err := s.shares.Generate(c.Param("id"), req.ExpiresInHours)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: grant})
}

// handleShareQR serves the pairing QR for a share token as a PNG.
func (s *Server) handleShareQR(c *gin.Context) {
	token, err := s.shares.Validate(c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}

	code, ok := s.latestQR(token.ConnectionID)
	if !ok {
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Message: "no pairing code available for this connection",
		})
		return
	}

	size := queryInt(c, "size", 256)
	png, err := s.shares.QRPNG(code, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

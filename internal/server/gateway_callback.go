package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxCallbackBytes = 1 << 20

// HandleGatewayCallback verifies and finalizes a hosted payment result. The
// raw body is passed through untouched because the signature covers it.
func (s *Server) HandleGatewayCallback(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.enrollment.HandleCallback(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "enrollment": result})
}

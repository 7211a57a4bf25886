package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vesaa/cncmate/internal/realtime"
)

// handleWS upgrades GET /ws and serves the connection until it closes.
// With ws_require_auth the JWT is passed as ?token= because browsers
// cannot set headers on a websocket handshake.
func (s *Server) handleWS(c *gin.Context) {
	if s.opts.WSRequireAuth {
		if _, err := s.auth.ParseJWT(c.Query("token")); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Printf("[ws] upgrade from %s: %v", c.ClientIP(), err)
		return
	}
	conn := realtime.NewWSConn(ws, s.opts.WS)
	if err := conn.Serve(s.hub); err != nil {
		log.Printf("[ws] %s: %v", conn.ID(), err)
	}
}

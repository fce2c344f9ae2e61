package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

// writeTimeout bounds a single websocket frame write; a slow client must
// not block the relay goroutine indefinitely.
const writeTimeout = 10 * time.Second

// handleWebsocket upgrades to a websocket connection and relays one
// deliberation's events as JSON frames. It is a thin per-request relay
// (driver event channel -> websocket writes), not a multi-subscriber
// connection manager: the driver owns a single-consumer bounded queue per
// request, so there is exactly one writer per connection.
func (s *Server) handleWebsocket(c *gin.Context) {
	var req askRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dreq, err := s.resolveRequest(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin validation is left to a reverse proxy / auth layer in
		// front of this service; this module focuses on the deliberation
		// protocol, not access control.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	s.cancels.RegisterSession(dreq.ConversationID, cancel)
	defer s.cancels.UnregisterSession(dreq.ConversationID)

	ch := s.startRun(ctx, dreq)

	for ev := range ch {
		writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, conn, ev)
		writeCancel()
		if err != nil {
			cancel()
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "deliberation complete")
}

package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/driver"
	"github.com/council-engine/council/pkg/events"
)

// askRequest is the POST /councils/:id/ask body.
type askRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Question       string `json:"question" binding:"required"`
	Mode           string `json:"mode,omitempty"`         // chat|ranked|full, default full
	ForceDirect    bool   `json:"force_direct,omitempty"`
}

// resolveRequest validates the council, resolves or creates the
// conversation, records the user's question, and builds the driver.Request
// shared by both the SSE and websocket transports.
func (s *Server) resolveRequest(ctx context.Context, councilID string, req askRequest) (driver.Request, error) {
	council, ok := s.deps.Councils[councilID]
	if !ok {
		return driver.Request{}, fmt.Errorf("council %q not found", councilID)
	}

	mode := driver.ModeFull
	switch req.Mode {
	case "", string(driver.ModeFull):
		mode = driver.ModeFull
	case string(driver.ModeChat):
		mode = driver.ModeChat
	case string(driver.ModeRanked):
		mode = driver.ModeRanked
	default:
		return driver.Request{}, fmt.Errorf("unknown mode %q", req.Mode)
	}

	convID := req.ConversationID
	var history []convstore.Turn
	if s.deps.Store != nil {
		if convID == "" {
			convID = convstore.NewID()
			if _, err := s.deps.Store.Create(ctx, convID, councilID); err != nil {
				return driver.Request{}, fmt.Errorf("create conversation: %w", err)
			}
		} else {
			rec, err := s.deps.Store.Get(ctx, convID)
			if err != nil {
				return driver.Request{}, fmt.Errorf("load conversation: %w", err)
			}
			if rec != nil {
				history = rec.Turns()
			}
		}
		if err := s.deps.Store.AppendUser(ctx, convID, req.Question); err != nil {
			return driver.Request{}, fmt.Errorf("append user message: %w", err)
		}
	} else if convID == "" {
		convID = convstore.NewID()
	}

	return driver.Request{
		ConversationID: convID,
		CouncilID:      councilID,
		Council:        council,
		Question:       req.Question,
		History:        history,
		Mode:           mode,
		ForceDirect:    req.ForceDirect,
	}, nil
}

// startRun spawns driver.Run in a background goroutine and returns a channel
// of its events, closed once the run reaches DONE/ERROR. Both the SSE and
// websocket handlers drain this channel at their own pace; the 16-slot
// buffer absorbs short write stalls. A longer stall blocks emit, so
// driver.Run stops draining its bounded queue and the stage goroutines then
// wait in Publish until the client catches up or ctx is cancelled.
func (s *Server) startRun(ctx context.Context, req driver.Request) <-chan events.Event {
	ch := make(chan events.Event, 16)
	deps := driver.Deps{Registry: s.deps.Registry, Global: s.deps.Global, Store: s.deps.Store, Board: s.deps.Board}
	go func() {
		defer close(ch)
		driver.Run(ctx, deps, req, func(ev events.Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return ch
}

// handleAsk streams one deliberation's events as SSE (text/event-stream).
// A client disconnect cancels the request context, which cancels the
// driver task.
func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dreq, err := s.resolveRequest(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	s.cancels.RegisterSession(dreq.ConversationID, cancel)
	defer s.cancels.UnregisterSession(dreq.ConversationID)

	ch := s.startRun(ctx, dreq)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Conversation-Id", dreq.ConversationID)

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(ev.Type, ev.Payload)
		return true
	})
}

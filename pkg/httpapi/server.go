// Package httpapi is the HTTP surface of the deliberation engine: a
// gin.Engine exposing conversation CRUD, the ask/SSE/websocket
// deliberation endpoints, and the per-council leaderboard.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/council-engine/council/pkg/backend"
	"github.com/council-engine/council/pkg/config"
	"github.com/council-engine/council/pkg/convstore"
	"github.com/council-engine/council/pkg/database"
	"github.com/council-engine/council/pkg/driver"
	"github.com/council-engine/council/pkg/leaderboard"
)

// Deps bundles every collaborator the HTTP surface wires into driver.Deps
// and its own handlers.
type Deps struct {
	Registry *backend.Registry
	Global   *config.GlobalConfig
	Councils map[string]*config.Council
	Store    *convstore.Store
	Board    *leaderboard.Leaderboard
	DBClient *database.Client // optional, used only by /health
}

// Server wraps a gin.Engine plus the http.Server it is bound to, split
// into Start/Shutdown so the entrypoint can drain gracefully.
type Server struct {
	engine     *gin.Engine
	deps       Deps
	cancels    *driver.CancelRegistry
	httpServer *http.Server
}

// NewServer builds a Server and registers every route.
func NewServer(deps Deps) *Server {
	s := &Server{
		engine:  gin.Default(),
		deps:    deps,
		cancels: driver.NewCancelRegistry(),
	}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin.Engine, mainly for tests that want to
// drive requests with httptest without a real listener.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/councils", s.handleListCouncils)
	v1.GET("/councils/:id/leaderboard", s.handleLeaderboard)
	v1.POST("/councils/:id/ask", s.handleAsk)
	v1.GET("/councils/:id/ws", s.handleWebsocket)

	v1.POST("/conversations", s.handleCreateConversation)
	v1.GET("/conversations", s.handleListConversations)
	v1.GET("/conversations/:id", s.handleGetConversation)
	v1.DELETE("/conversations/:id", s.handleDeleteConversation)
	v1.POST("/conversations/:id/cancel", s.handleCancelConversation)
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, used by tests that
// need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":   "healthy",
		"councils": len(s.deps.Councils),
		"models":   len(s.deps.Global.Models),
		"backends": len(s.deps.Registry.Available()),
	}

	if s.deps.DBClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(reqCtx, s.deps.DBClient.DB())
		resp["database"] = dbHealth
		if err != nil {
			resp["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListCouncils(c *gin.Context) {
	type councilSummary struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		MinAdvisors int    `json:"min_advisors"`
		MaxAdvisors int    `json:"max_advisors"`
	}
	out := make([]councilSummary, 0, len(s.deps.Councils))
	for id, council := range s.deps.Councils {
		out = append(out, councilSummary{
			ID: id, Name: council.Name, Description: council.Description,
			MinAdvisors: council.Routing.MinAdvisors, MaxAdvisors: council.Routing.MaxAdvisors,
		})
	}
	c.JSON(http.StatusOK, gin.H{"councils": out})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	councilID := c.Param("id")
	if _, ok := s.deps.Councils[councilID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "council not found"})
		return
	}

	entries := s.deps.Board.Rankings(councilID)
	type entryView struct {
		BackendID    string             `json:"backend_id"`
		Wins         int                `json:"wins"`
		Participations int              `json:"participations"`
		WinRate      float64            `json:"win_rate"`
		AvgScore     float64            `json:"avg_score"`
		AvgPosition  float64            `json:"avg_position"`
		RubricScores map[string]float64 `json:"rubric_scores,omitempty"`
	}
	out := make([]entryView, len(entries))
	for i, e := range entries {
		out[i] = entryView{
			BackendID: e.BackendID, Wins: e.Wins, Participations: e.Participations,
			WinRate: e.WinRate(), AvgScore: e.AvgScore(), AvgPosition: e.AvgPosition(),
			RubricScores: e.AvgRubricScores(),
		}
	}
	c.JSON(http.StatusOK, gin.H{"council_id": councilID, "rankings": out})
}

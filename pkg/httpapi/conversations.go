package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/council-engine/council/pkg/convstore"
)

// createConversationRequest is the POST /conversations body.
type createConversationRequest struct {
	CouncilID string `json:"council_id" binding:"required"`
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.deps.Councils[req.CouncilID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "council not found"})
		return
	}

	id := convstore.NewID()
	rec, err := s.deps.Store.Create(c.Request.Context(), id, req.CouncilID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleListConversations(c *gin.Context) {
	summaries, err := s.deps.Store.List(c.Request.Context(), c.Query("council_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	rec, err := s.deps.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	deleted, err := s.deps.Store.SoftDelete(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleCancelConversation cancels an in-flight deliberation for this
// conversation id, if one is registered.
func (s *Server) handleCancelConversation(c *gin.Context) {
	if s.cancels.CancelSession(c.Param("id")) {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no in-flight request for this conversation"})
}

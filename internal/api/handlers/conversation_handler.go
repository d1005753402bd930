package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoovoice/internal/services"
)

type ConversationHandler struct {
	svc services.ConversationService
}

func NewConversationHandler(svc services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// Transcript lists the archived turns of a finished interview, oldest first.
func (h *ConversationHandler) Transcript(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	threadID := c.Param("thread_id")
	turns, err := h.svc.Transcript(c.Request.Context(), userID, threadID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thread_id": threadID,
		"messages":  turns,
	})
}

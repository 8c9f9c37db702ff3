package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/repository"
	"go.uber.org/zap"
)

type MessageHandler struct {
	repo   repository.MessageRepository
	logger *zap.Logger
}

func NewMessageHandler(repo repository.MessageRepository, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{repo: repo, logger: logger}
}

// Recent handles GET /api/messages?limit=50&channelId=<uuid>
//
//   - "limit" defaults to 50. Out-of-range values are clamped to [1, 500]
//     by the store; values that are not integers are rejected.
//   - "channelId" is optional. Without it the newest messages across all
//     channels are returned.
//
// The response is a JSON array ordered oldest to newest.
func (h *MessageHandler) Recent(c *gin.Context) {
	limit := repository.DefaultRecentLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		limit = parsed
	}

	var channelID *uuid.UUID
	if id := c.Query("channelId"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'channelId' parameter"})
			return
		}
		channelID = &parsed
	}

	messages, err := h.repo.Recent(c.Request.Context(), limit, channelID)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}

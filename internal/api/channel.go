package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/repository"
	"go.uber.org/zap"
)

// ChannelHandler serves read-only channel lookups so clients can find the
// id to subscribe to. Creating and listing channels belongs to the channel
// service.
type ChannelHandler struct {
	repo   repository.ChannelRepository
	logger *zap.Logger
}

func NewChannelHandler(repo repository.ChannelRepository, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{repo: repo, logger: logger}
}

// Default handles GET /api/channels/default
func (h *ChannelHandler) Default(c *gin.Context) {
	ch, err := h.repo.GetOrCreateDefault(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to resolve default channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get channel"})
		return
	}
	c.JSON(http.StatusOK, ch)
}

// GetByID handles GET /api/channels/:id
func (h *ChannelHandler) GetByID(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}

	ch, err := h.repo.GetByID(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Error("failed to get channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get channel"})
		return
	}

	// The repo returns nil, nil when not found.
	if ch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	c.JSON(http.StatusOK, ch)
}

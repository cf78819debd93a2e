package handler

import (
	"github.com/gin-gonic/gin"

	"jastip/internal/queue"
	"jastip/internal/stocklock"
	"jastip/pkg/utils"
)

// QueueHandler queue inspection handler for operators
type QueueHandler struct {
	producer *queue.Producer
	locks    *stocklock.Service
}

// NewQueueHandler creates a queue handler
func NewQueueHandler(producer *queue.Producer, locks *stocklock.Service) *QueueHandler {
	return &QueueHandler{
		producer: producer,
		locks:    locks,
	}
}

// GetStats returns queue depth and stock lock table stats
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.producer.GetQueueStatus(c.Request.Context())
	if err != nil {
		utils.Error(c, utils.CodeInternalError, "failed to read queue stats")
		return
	}

	lockStats := h.locks.GetMemoryStats()
	utils.Success(c, gin.H{
		"queue":       stats,
		"stock_locks": lockStats,
	})
}

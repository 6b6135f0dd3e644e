package handler

import (
	"context"
	"net/http"
	"time"

	"secure-rag-go/internal/service"

	"github.com/gin-gonic/gin"
)

// HealthHandler 报告向量库是否可达。
type HealthHandler struct {
	retrievalService service.RetrievalService
}

func NewHealthHandler(retrievalService service.RetrievalService) *HealthHandler {
	return &HealthHandler{retrievalService: retrievalService}
}

// Health 处理 GET /healthz。
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if h.retrievalService.Healthy(ctx) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "vectorStore": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "vectorStore": false})
}

package handler

import (
	"net/http"
	"strconv"

	"secure-rag-go/internal/model"
	"secure-rag-go/internal/service"
	"secure-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了检索相关的处理器。
type SearchHandler struct {
	retrievalService service.RetrievalService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retrievalService service.RetrievalService) *SearchHandler {
	return &SearchHandler{retrievalService: retrievalService}
}

// Search 处理 GET /api/v1/search?query=&topK=。未指定 topK 时使用 max_context_chunks。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的查询参数", "data": nil})
		return
	}
	topK := 0
	if s := c.Query("topK"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "topK 必须在 1 到 100 之间", "data": nil})
			return
		}
		topK = n
	}

	results, err := h.retrievalService.Retrieve(c.Request.Context(), query, topK)
	if err != nil {
		log.Errorf("[SearchHandler] 检索失败, error: %v", err)
		respondError(c, err)
		return
	}
	log.Infof("[SearchHandler] 检索成功, 返回 %d 条结果", len(results))
	respondOK(c, http.StatusOK, model.SearchResponse{Query: query, Results: results})
}

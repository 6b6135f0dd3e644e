// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"secure-rag-go/internal/service"
	"secure-rag-go/pkg/errs"

	"github.com/gin-gonic/gin"
)

// statusOf 将错误分类映射为 HTTP 状态码和对外消息。消息中不包含底层原因。
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "无效的请求参数"
	case errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound, "文档不存在"
	case errors.Is(err, errs.ErrStore):
		return http.StatusServiceUnavailable, "向量库暂不可用"
	case errors.Is(err, errs.ErrProvider):
		return http.StatusBadGateway, "Embedding 服务暂不可用"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}

func respondError(c *gin.Context, err error) {
	status, msg := statusOf(err)
	c.JSON(status, gin.H{"code": status, "message": msg, "data": nil})
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": "success", "data": data})
}

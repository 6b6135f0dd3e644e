package handler

import (
	"encoding/json"
	"net/http"

	"secure-rag-go/internal/model"
	"secure-rag-go/internal/service"
	"secure-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DocumentHandler 负责文档入库、状态查询和删除的 API。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Create 处理 POST /api/v1/documents。入库异步进行，立即返回 202。
func (h *DocumentHandler) Create(c *gin.Context) {
	var req model.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}
	if err := h.documentService.Create(c.Request.Context(), req); err != nil {
		log.Errorf("[DocumentHandler] 创建文档失败, documentId: %s, error: %v", req.ID, err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusAccepted, model.DocumentStatusResponse{DocumentID: req.ID, Status: model.StatusPending})
}

// Upload 处理 POST /api/v1/documents/upload 的 multipart 上传。
// documentId 为空时生成一个 UUID。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少文件", "data": nil})
		return
	}
	documentID := c.PostForm("documentId")
	if documentID == "" {
		documentID = uuid.NewString()
	}
	var metadata map[string]interface{}
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "metadata 必须是 JSON 对象", "data": nil})
			return
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("[DocumentHandler] 打开上传文件失败", err)
		respondError(c, err)
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err = h.documentService.Upload(c.Request.Context(), service.UploadRequest{
		DocumentID:  documentID,
		FileName:    fileHeader.Filename,
		ContentType: contentType,
		Size:        fileHeader.Size,
		Body:        file,
		Metadata:    metadata,
	})
	if err != nil {
		log.Errorf("[DocumentHandler] 上传文件失败, documentId: %s, error: %v", documentID, err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusAccepted, model.DocumentStatusResponse{DocumentID: documentID, Status: model.StatusPending})
}

// Status 处理 GET /api/v1/documents/:id/status。
func (h *DocumentHandler) Status(c *gin.Context) {
	id := c.Param("id")
	status, err := h.documentService.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, model.DocumentStatusResponse{DocumentID: id, Status: status})
}

// Delete 处理 DELETE /api/v1/documents/:id。
func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	n, err := h.documentService.Delete(c.Request.Context(), id)
	if err != nil {
		log.Errorf("[DocumentHandler] 删除文档失败, documentId: %s, error: %v", id, err)
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"documentId": id, "deleted": n})
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"secure-rag-go/internal/model"
	"secure-rag-go/internal/pipeline"
	"secure-rag-go/internal/repository"
	"secure-rag-go/pkg/errs"
	"secure-rag-go/pkg/log"
	"secure-rag-go/pkg/storage"
	"secure-rag-go/pkg/tasks"
)

// ErrDocumentNotFound 表示文档既没有入库状态也没有向量引用。
var ErrDocumentNotFound = errors.New("document not found")

// Dispatcher 将入库任务交给异步执行方（进程内 runner 或 Kafka）。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.IngestTask) error
}

// DispatchFunc 让普通函数满足 Dispatcher。
type DispatchFunc func(ctx context.Context, task tasks.IngestTask) error

func (f DispatchFunc) Dispatch(ctx context.Context, task tasks.IngestTask) error { return f(ctx, task) }

// UploadRequest 描述一个上传文件。
type UploadRequest struct {
	DocumentID  string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	Metadata    map[string]interface{}
}

// DocumentService 接口定义了文档入库、状态查询与删除操作。
type DocumentService interface {
	// Create 登记文档并异步入库，不等待入库完成。
	Create(ctx context.Context, req model.CreateDocumentRequest) error
	// Upload 将文件存入对象存储并异步入库。
	Upload(ctx context.Context, req UploadRequest) error
	// Index 同步执行入库并记录向量引用与状态，由任务处理器调用。
	Index(ctx context.Context, doc model.Document) error
	// MarkFailed 记录入库失败，供任务在调用 Index 之前失败时使用。
	MarkFailed(ctx context.Context, documentID string)
	Status(ctx context.Context, documentID string) (model.IngestStatus, error)
	// Delete 删除文档的所有向量记录，返回删除的记录数。
	Delete(ctx context.Context, documentID string) (int, error)
}

type documentService struct {
	retrieval     RetrievalService
	refs          repository.VectorRefRepository
	statuses      repository.IngestStatusRepository
	sources       repository.SourceFileRepository
	objects       storage.ObjectStore
	dispatcher    Dispatcher
	inlineContent bool
}

// NewDocumentService 创建一个新的 DocumentService 实例。
// inlineContent 为 true 时文本随任务在进程内传递，否则先写入对象存储。
func NewDocumentService(
	retrieval RetrievalService,
	refs repository.VectorRefRepository,
	statuses repository.IngestStatusRepository,
	sources repository.SourceFileRepository,
	objects storage.ObjectStore,
	dispatcher Dispatcher,
	inlineContent bool,
) DocumentService {
	return &documentService{
		retrieval:     retrieval,
		refs:          refs,
		statuses:      statuses,
		sources:       sources,
		objects:       objects,
		dispatcher:    dispatcher,
		inlineContent: inlineContent,
	}
}

func (s *documentService) Create(ctx context.Context, req model.CreateDocumentRequest) error {
	const op = "service.DocumentService.Create"
	if err := validateDocumentID(op, req.ID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return errs.Newf(errs.ErrValidation, op, "document %s has empty content", req.ID)
	}

	task := tasks.IngestTask{
		DocumentID:  req.ID,
		ContentType: pipeline.ContentTypePlain,
		Metadata:    req.Metadata,
	}
	if s.inlineContent {
		task.Content = req.Content
	} else {
		task.ObjectName = path.Join("documents", req.ID+".txt")
		task.FileName = req.ID + ".txt"
		if err := s.objects.Put(ctx, task.ObjectName, strings.NewReader(req.Content), int64(len(req.Content)), pipeline.ContentTypePlain); err != nil {
			return errs.Store(op, err)
		}
	}
	return s.dispatch(ctx, op, task)
}

func (s *documentService) Upload(ctx context.Context, req UploadRequest) error {
	const op = "service.DocumentService.Upload"
	if err := validateDocumentID(op, req.DocumentID); err != nil {
		return err
	}
	if req.Size <= 0 || req.Body == nil {
		return errs.Newf(errs.ErrValidation, op, "uploaded file is empty")
	}
	fileName := path.Base(req.FileName)
	objectName := path.Join("uploads", req.DocumentID, fileName)

	if err := s.objects.Put(ctx, objectName, req.Body, req.Size, req.ContentType); err != nil {
		return errs.Store(op, err)
	}
	if err := s.sources.Save(ctx, &model.SourceFile{
		DocumentID: req.DocumentID,
		FileName:   fileName,
		ObjectName: objectName,
		TotalSize:  req.Size,
	}); err != nil {
		return errs.Store(op, fmt.Errorf("保存上传记录失败: %w", err))
	}
	log.Infof("[DocumentService] 文件已上传, documentId: %s, object: %s, size: %d", req.DocumentID, objectName, req.Size)

	return s.dispatch(ctx, op, tasks.IngestTask{
		DocumentID:  req.DocumentID,
		ObjectName:  objectName,
		FileName:    fileName,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	})
}

func (s *documentService) dispatch(ctx context.Context, op string, task tasks.IngestTask) error {
	if err := s.statuses.Set(ctx, task.DocumentID, model.StatusPending); err != nil {
		log.Warnf("[DocumentService] 写入入库状态失败, documentId: %s, error: %v", task.DocumentID, err)
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		s.setStatus(ctx, task.DocumentID, model.StatusFailed)
		log.Errorf("[DocumentService] 入库任务分发失败, documentId: %s, error: %v", task.DocumentID, err)
		return errs.Store(op, fmt.Errorf("dispatch ingest task: %w", err))
	}
	log.Infof("[DocumentService] 入库任务已分发, documentId: %s", task.DocumentID)
	return nil
}

func (s *documentService) Index(ctx context.Context, doc model.Document) error {
	report, err := s.retrieval.Ingest(ctx, doc)
	if err != nil {
		s.setStatus(ctx, doc.ID, model.StatusFailed)
		return err
	}

	// 重新入库后分块数可能变少，删除不再产生的旧记录
	old, err := s.refs.FindByDocumentID(ctx, doc.ID)
	if err != nil {
		log.Warnf("[DocumentService] 读取旧向量引用失败, documentId: %s, error: %v", doc.ID, err)
	}
	current := make(map[string]struct{}, len(report.Chunks))
	for _, c := range report.Chunks {
		current[c.VectorID] = struct{}{}
	}
	var stale []string
	for _, ref := range old {
		if _, ok := current[ref.VectorID]; !ok {
			stale = append(stale, ref.VectorID)
		}
	}
	if err := s.retrieval.DeleteDocument(ctx, stale); err != nil {
		log.Warnf("[DocumentService] 删除过期向量记录失败, documentId: %s, count: %d, error: %v", doc.ID, len(stale), err)
	}

	refs := make([]*model.VectorRef, 0, len(report.Chunks))
	for _, c := range report.Chunks {
		refs = append(refs, &model.VectorRef{
			DocumentID:    doc.ID,
			VectorID:      c.VectorID,
			ChunkIndex:    c.ChunkIndex,
			PayloadDigest: c.PayloadDigest,
			Model:         report.Model,
		})
	}
	if err := s.refs.ReplaceForDocument(ctx, doc.ID, refs); err != nil {
		s.setStatus(ctx, doc.ID, model.StatusFailed)
		return errs.Store("service.DocumentService.Index", fmt.Errorf("保存向量引用失败: %w", err))
	}
	s.setStatus(ctx, doc.ID, model.StatusIndexed)
	return nil
}

func (s *documentService) MarkFailed(ctx context.Context, documentID string) {
	s.setStatus(ctx, documentID, model.StatusFailed)
}

func (s *documentService) Status(ctx context.Context, documentID string) (model.IngestStatus, error) {
	status, ok, err := s.statuses.Get(ctx, documentID)
	if err != nil {
		return "", errs.Store("service.DocumentService.Status", err)
	}
	if ok {
		return status, nil
	}
	// 状态过期但引用仍在时视为已入库
	refs, err := s.refs.FindByDocumentID(ctx, documentID)
	if err != nil {
		return "", errs.Store("service.DocumentService.Status", err)
	}
	if len(refs) > 0 {
		return model.StatusIndexed, nil
	}
	return "", ErrDocumentNotFound
}

func (s *documentService) Delete(ctx context.Context, documentID string) (int, error) {
	const op = "service.DocumentService.Delete"
	refs, err := s.refs.FindByDocumentID(ctx, documentID)
	if err != nil {
		return 0, errs.Store(op, err)
	}
	source, err := s.sources.FindByDocumentID(ctx, documentID)
	if err != nil {
		return 0, errs.Store(op, err)
	}
	_, hasStatus, err := s.statuses.Get(ctx, documentID)
	if err != nil {
		return 0, errs.Store(op, err)
	}
	if len(refs) == 0 && source == nil && !hasStatus {
		return 0, ErrDocumentNotFound
	}

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.VectorID
	}
	if err := s.retrieval.DeleteDocument(ctx, ids); err != nil {
		return 0, err
	}
	if err := s.refs.DeleteByDocumentID(ctx, documentID); err != nil {
		return 0, errs.Store(op, err)
	}
	if source != nil {
		if err := s.objects.Remove(ctx, source.ObjectName); err != nil {
			log.Warnf("[DocumentService] 删除源文件失败, documentId: %s, error: %v", documentID, err)
		}
		if err := s.sources.DeleteByDocumentID(ctx, documentID); err != nil {
			log.Warnf("[DocumentService] 删除上传记录失败, documentId: %s, error: %v", documentID, err)
		}
	}
	if err := s.statuses.Delete(ctx, documentID); err != nil {
		log.Warnf("[DocumentService] 删除入库状态失败, documentId: %s, error: %v", documentID, err)
	}
	log.Infof("[DocumentService] 文档已删除, documentId: %s, records: %d", documentID, len(ids))
	return len(ids), nil
}

func (s *documentService) setStatus(ctx context.Context, documentID string, status model.IngestStatus) {
	if err := s.statuses.Set(ctx, documentID, status); err != nil {
		log.Warnf("[DocumentService] 写入入库状态失败, documentId: %s, status: %s, error: %v", documentID, status, err)
	}
}

func validateDocumentID(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.Newf(errs.ErrValidation, op, "document id is required")
	}
	if strings.ContainsAny(id, "/\\") || len(id) > 128 {
		return errs.Newf(errs.ErrValidation, op, "document id %q is invalid", id)
	}
	return nil
}

// Package pipeline 定义了文档入库的核心流程：分块、任务处理与进程内异步执行。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"secure-rag-go/internal/model"
	"secure-rag-go/pkg/log"
	"secure-rag-go/pkg/storage"
	"secure-rag-go/pkg/tasks"
)

// ContentTypePlain 表示无需 Tika 提取的纯文本内容。
const ContentTypePlain = "text/plain"

// Indexer 将一个文档写入检索管道并记录其引用与状态。
type Indexer interface {
	Index(ctx context.Context, doc model.Document) error
	// MarkFailed 在任务于入库前失败时记录失败状态。
	MarkFailed(ctx context.Context, documentID string)
}

// TextExtractor 从二进制文件中提取文本，由 tika.Client 实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Processor 封装了入库任务处理的所有依赖和逻辑。
type Processor struct {
	objects   storage.ObjectStore
	extractor TextExtractor
	indexer   Indexer
}

// NewProcessor 创建一个新的 Processor 实例。objects 和 extractor 只在处理上传文件时使用。
func NewProcessor(objects storage.ObjectStore, extractor TextExtractor, indexer Indexer) *Processor {
	return &Processor{objects: objects, extractor: extractor, indexer: indexer}
}

// Process 是入库任务处理的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理入库任务, DocumentID: %s, FileName: %s", task.DocumentID, task.FileName)

	text, err := p.loadText(ctx, task)
	if err == nil && strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] 文档 '%s' 文本内容为空, 处理中止", task.DocumentID)
		err = errors.New("提取的文本内容为空")
	}
	if err != nil {
		p.indexer.MarkFailed(ctx, task.DocumentID)
		return err
	}
	log.Infof("[Processor] 文本准备完成, DocumentID: %s, 内容长度: %d 字符", task.DocumentID, utf8.RuneCountInString(text))

	doc := model.Document{ID: task.DocumentID, Content: text, Metadata: task.Metadata}
	if err := p.indexer.Index(ctx, doc); err != nil {
		log.Errorf("[Processor] 文档入库失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return err
	}
	log.Infof("[Processor] 入库任务处理成功, DocumentID: %s", task.DocumentID)
	return nil
}

func (p *Processor) loadText(ctx context.Context, task tasks.IngestTask) (string, error) {
	if task.ObjectName == "" {
		return task.Content, nil
	}
	if p.objects == nil {
		return "", fmt.Errorf("任务 %s 引用了对象 %s, 但未配置对象存储", task.DocumentID, task.ObjectName)
	}

	// 1. 从 MinIO 下载文件
	data, err := p.objects.Get(ctx, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 从MinIO下载文件失败, Object: %s, Error: %v", task.ObjectName, err)
		return "", err
	}
	log.Infof("[Processor] 文件下载成功, Object: %s, 大小: %d字节", task.ObjectName, len(data))
	if len(data) == 0 {
		return "", errors.New("文件内容为空")
	}
	if strings.HasPrefix(task.ContentType, ContentTypePlain) {
		return string(data), nil
	}

	// 2. 使用 Tika 提取文本
	if p.extractor == nil {
		return "", fmt.Errorf("无法提取 %s 的文本: 未配置 Tika", task.FileName)
	}
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), task.FileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", task.FileName, err)
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	return text, nil
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/llm"
	"secure-rag-go/pkg/log"
)

// FrameWriter 写出一帧 JSON，由 websocket 连接实现。
type FrameWriter interface {
	WriteJSON(v interface{}) error
}

// Source 是返回给客户端的引用信息，不包含分块原文。
type Source struct {
	Rank     int                    `json:"rank"`
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// StreamResponse 检索上下文后调用 LLM，并将分块流式写出。检索失败时不调用 LLM。
	StreamResponse(ctx context.Context, query string, w FrameWriter) error
}

type chatService struct {
	retrieval RetrievalService
	llmClient llm.Client
	cfg       config.LLMConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retrieval RetrievalService, llmClient llm.Client, cfg config.LLMConfig) ChatService {
	return &chatService{retrieval: retrieval, llmClient: llmClient, cfg: cfg}
}

func (s *chatService) StreamResponse(ctx context.Context, query string, w FrameWriter) error {
	// 1. 检索上下文
	results, err := s.retrieval.Retrieve(ctx, query, 0)
	if err != nil {
		return fmt.Errorf("failed to retrieve context: %w", err)
	}
	contextText := s.retrieval.AssembleContext(results)
	log.Infof("[ChatService] 检索到 %d 条上下文", len(results))

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{Rank: i + 1, ID: r.ID, Score: r.Score, Metadata: r.Metadata}
	}
	if err := w.WriteJSON(map[string]interface{}{"type": "sources", "sources": sources}); err != nil {
		return err
	}

	// 2. 构建消息并流式调用 LLM
	messages := []llm.Message{
		{Role: "system", Content: s.buildSystemMessage(contextText)},
		{Role: "user", Content: query},
	}
	buffer := s.cfg.StreamBuffer
	if buffer <= 0 {
		buffer = 16
	}
	out := make(chan string, buffer)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- s.llmClient.StreamChat(ctx, messages, nil, out)
	}()

	var writeErr error
	for fragment := range out {
		if writeErr != nil {
			continue // 排空通道，让生成方退出
		}
		writeErr = w.WriteJSON(map[string]string{"chunk": fragment})
	}
	if err := <-streamErr; err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	// 3. 发送完成通知
	return w.WriteJSON(CompletionFrame())
}

func (s *chatService) buildSystemMessage(contextText string) string {
	refStart := s.cfg.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.cfg.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if s.cfg.Prompt.Rules != "" {
		sys.WriteString(s.cfg.Prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	sys.WriteString(contextText)
	sys.WriteString("\n")
	sys.WriteString(refEnd)
	return sys.String()
}

// CompletionFrame 是一次回答结束的通知，出错时 handler 也会补发。
func CompletionFrame() map[string]interface{} {
	return map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	}
}

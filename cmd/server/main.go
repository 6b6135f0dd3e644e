// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secure-rag-go/internal/audit"
	"secure-rag-go/internal/config"
	"secure-rag-go/internal/handler"
	"secure-rag-go/internal/middleware"
	"secure-rag-go/internal/model"
	"secure-rag-go/internal/pipeline"
	"secure-rag-go/internal/repository"
	"secure-rag-go/internal/service"
	"secure-rag-go/pkg/cipher"
	"secure-rag-go/pkg/database"
	"secure-rag-go/pkg/embedding"
	"secure-rag-go/pkg/es"
	"secure-rag-go/pkg/kafka"
	"secure-rag-go/pkg/llm"
	"secure-rag-go/pkg/log"
	"secure-rag-go/pkg/storage"
	"secure-rag-go/pkg/tasks"
	"secure-rag-go/pkg/tika"
	"secure-rag-go/pkg/vectorstore"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("SECURERAG_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 和 MinIO
	database.InitMySQL(cfg.Database.MySQL.DSN, &model.VectorRef{}, &model.SourceFile{})
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	// 4. 初始化检索核心：加密器、Embedding 提供方、向量库
	vectorCipher, err := cipher.New(cfg.Encryption)
	if err != nil {
		log.Fatal("初始化向量加密器失败", err)
	}
	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		log.Fatal("初始化 Embedding 提供方失败", err)
	}

	var esClient *elasticsearch.Client
	if cfg.VectorStore.Backend == vectorstore.BackendElasticsearch {
		esClient, err = es.NewClient(cfg.Elasticsearch)
		if err != nil {
			log.Fatal("初始化 Elasticsearch 客户端失败", err)
		}
		initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
		err = es.EnsureIndex(initCtx, esClient, cfg.VectorStore.IndexName, cfg.Embedding.Dimensions, cfg.VectorStore.SimilarityMetric)
		cancelInit()
		if err != nil {
			log.Fatal("创建向量索引失败", err)
		}
	}
	store, err := vectorstore.New(cfg.VectorStore, cfg.Embedding.Dimensions, esClient)
	if err != nil {
		log.Fatal("初始化向量库失败", err)
	}

	// 5. 初始化 Repository
	refRepo := repository.NewVectorRefRepository(database.DB)
	sourceRepo := repository.NewSourceFileRepository(database.DB)
	statusRepo := repository.NewIngestStatusRepository(database.RDB)

	// 6. 初始化 Service (依赖注入)
	auditor := audit.NewZapRecorder(log.Logger())
	retrievalService := service.NewRetrievalService(cfg.Retrieval, cfg.Embedding, cfg.Encryption, provider, vectorCipher, store, auditor)
	chatService := service.NewChatService(retrievalService, llm.NewClient(cfg.LLM), cfg.LLM)
	objects := storage.NewMinioStore(storage.MinioClient, cfg.MinIO.BucketName)
	tikaClient := tika.NewClient(cfg.Tika)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// 7. 初始化入库调度：Kafka 或进程内 worker
	var (
		documentService service.DocumentService
		runner          *pipeline.AsyncRunner
		producer        *kafka.Producer
		consumerDone    = make(chan struct{})
	)
	switch cfg.Ingest.Mode {
	case "kafka":
		producer = kafka.NewProducer(cfg.Kafka)
		documentService = service.NewDocumentService(retrievalService, refRepo, statusRepo, sourceRepo, objects,
			service.DispatchFunc(producer.ProduceIngestTask), false)
		processor := pipeline.NewProcessor(objects, tikaClient, documentService)
		consumer := kafka.NewConsumer(cfg.Kafka, processor, kafka.NewRedisAttemptCounter(database.RDB))
		go func() {
			defer close(consumerDone)
			consumer.Run(bgCtx)
		}()
	default:
		// 进程内模式下 processor 与 documentService 互相引用，先用闭包转发。
		documentService = service.NewDocumentService(retrievalService, refRepo, statusRepo, sourceRepo, objects,
			service.DispatchFunc(func(ctx context.Context, task tasks.IngestTask) error {
				return runner.Dispatch(ctx, task)
			}), true)
		runner = pipeline.NewAsyncRunner(pipeline.NewProcessor(objects, tikaClient, documentService), cfg.Ingest.Workers, cfg.Ingest.Buffer)
		runner.Start(bgCtx)
		go func() {
			defer close(consumerDone)
			for e := range runner.Errors() {
				log.Errorf("[Ingest] 文档入库失败, DocumentID: %s, Error: %v", e.DocumentID, e.Err)
			}
		}()
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		documentHandler := handler.NewDocumentHandler(documentService)
		documents := apiV1.Group("/documents")
		{
			documents.POST("", documentHandler.Create)
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("/:id/status", documentHandler.Status)
			documents.DELETE("/:id", documentHandler.Delete)
		}
		apiV1.GET("/search", handler.NewSearchHandler(retrievalService).Search)
	}
	r.GET("/chat", handler.NewChatHandler(chatService).Handle)
	r.GET("/healthz", handler.NewHealthHandler(retrievalService).Health)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器，不再接收新的入库请求
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 进程内模式先排空队列，Kafka 模式直接停止消费，未提交的消息会重新投递
	if runner != nil {
		go runner.Stop()
	} else {
		stopBackground()
	}
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待入库任务结束超时, 取消剩余任务")
		stopBackground()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

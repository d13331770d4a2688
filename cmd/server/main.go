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

	"github.com/gin-gonic/gin"

	"doctalk-go/internal/config"
	"doctalk-go/internal/handler"
	"doctalk-go/internal/middleware"
	"doctalk-go/internal/pipeline"
	"doctalk-go/internal/repository"
	"doctalk-go/internal/service"
	"doctalk-go/pkg/database"
	"doctalk-go/pkg/embedding"
	"doctalk-go/pkg/kafka"
	"doctalk-go/pkg/llm"
	"doctalk-go/pkg/log"
	"doctalk-go/pkg/metrics"
	"doctalk-go/pkg/storage"
	"doctalk-go/pkg/tika"
	"doctalk-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("加载配置失败: %v", err))
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 注册 Prometheus 指标
	metrics.Init()

	// 4. 初始化数据库、Redis、对象存储和 Kafka 生产者
	db, err := database.InitPostgres(cfg.Database.Postgres.DSN)
	if err != nil {
		log.Fatalf("PostgreSQL 初始化失败: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	rdb, err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatalf("Redis 初始化失败: %v", err)
	}
	store, err := storage.NewObjectStore(cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)

	// 5. 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	fragmentRepo := repository.NewFragmentRepository(db)
	chatRepo := repository.NewChatRepository(db)

	// 6. 初始化基础客户端
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	tikaClient := tika.NewClient(cfg.Tika)
	// Embedding 客户端按 缓存 -> 重试 的顺序装饰：命中缓存的调用不会触发重试逻辑
	embeddingClient := embedding.NewRetryingClient(
		embedding.NewCachedClient(
			embedding.NewClient(cfg.Embedding),
			embedding.NewRedisCache(rdb),
			time.Duration(cfg.Embedding.CacheTTLHours)*time.Hour,
		),
		cfg.Embedding.Retry,
	)
	llmClient := llm.NewClient(cfg.LLM)

	// 7. 初始化 Service (依赖注入)
	authService := service.NewAuthService(userRepo, jwtManager)
	documentService := service.NewDocumentService(docRepo, store, producer, cfg.MinIO, cfg.Ingest)
	chatService := service.NewChatService(docRepo, fragmentRepo, chatRepo, embeddingClient, llmClient, cfg.Chat)

	// 8. 初始化文档处理管道并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(store, tikaClient, embeddingClient, docRepo, fragmentRepo, cfg.Ingest)
	consumer := kafka.NewConsumer(cfg.Kafka, rdb, processor)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go consumer.Start(consumerCtx)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), middleware.Metrics(), gin.Recovery())

	// 10. 注册路由
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	authHandler := handler.NewAuthHandler(authService)
	documentHandler := handler.NewDocumentHandler(documentService)
	chatHandler := handler.NewChatHandler(chatService)

	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组 (公开访问)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// 需要认证的路由 (仅限登录用户访问)
		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager))
		{
			authed.GET("/users/me", authHandler.Me)

			documents := authed.Group("/documents")
			{
				documents.POST("", documentHandler.Create)
				documents.GET("", documentHandler.List)
				documents.GET("/:id", documentHandler.Get)
				documents.DELETE("/:id", documentHandler.Delete)
				documents.POST("/:id/complete", documentHandler.Complete)
				documents.GET("/:id/download", documentHandler.Download)
				documents.POST("/:id/chat", chatHandler.Chat)
				documents.GET("/:id/chat/messages", chatHandler.History)
			}

			// Chat 路由 (WebSocket)
			authed.GET("/chat/ws", chatHandler.HandleWS)
		}
	}

	// 11. 启动 HTTP 服务器并实现优雅停机
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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 先关 HTTP 服务器，再停消费者和生产者
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	stopConsumer()
	if err := producer.Close(); err != nil {
		log.Warnf("Kafka 生产者关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

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
	"github.com/panjf2000/ants/v2"

	"docbrain-go/internal/chunker"
	"docbrain-go/internal/config"
	"docbrain-go/internal/handler"
	"docbrain-go/internal/middleware"
	"docbrain-go/internal/model"
	"docbrain-go/internal/pipeline"
	"docbrain-go/internal/repository"
	"docbrain-go/internal/service"
	"docbrain-go/internal/vectorstore"
	"docbrain-go/pkg/database"
	"docbrain-go/pkg/embedding"
	"docbrain-go/pkg/es"
	"docbrain-go/pkg/kafka"
	"docbrain-go/pkg/llm"
	"docbrain-go/pkg/log"
	"docbrain-go/pkg/storage"
	"docbrain-go/pkg/tika"
	"docbrain-go/pkg/token"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与向量索引
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatalf("MySQL 初始化失败: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Scope{}, &model.Document{}, &model.DocumentChunk{}); err != nil {
		log.Fatalf("数据库表结构同步失败: %v", err)
	}

	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		log.Fatalf("Redis 初始化失败: %v", err)
	}

	storageClient, err := storage.New(cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}

	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatalf("Elasticsearch 初始化失败: %v", err)
	}
	store, err := vectorstore.NewElasticStore(esClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("向量索引初始化失败: %v", err)
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	scopeRepo := repository.NewScopeRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	conversationRepo := repository.NewConversationRepository(rdb, cfg.Conversation.TTLHours, cfg.Conversation.HistoryLimit)

	// 5. 初始化外部服务客户端
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	textChunker := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)

	// 6. 初始化摄取管道与 Kafka
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		log.Fatalf("工作池初始化失败: %v", err)
	}
	defer pool.Release()

	processor := pipeline.NewProcessor(
		textChunker,
		embeddingClient,
		store,
		storageClient,
		tikaClient,
		userRepo,
		scopeRepo,
		docRepo,
		chunkRepo,
		pool,
	)

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	consumer := kafka.NewConsumer(cfg.Kafka, rdb, processor)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go consumer.Start(consumerCtx)

	// 7. 初始化 Service (依赖注入)
	userService := service.NewUserService(userRepo, jwtManager, rdb)
	ragService := service.NewRAGService(embeddingClient, store, cfg.RAG)
	documentService := service.NewDocumentService(docRepo, chunkRepo, textChunker, producer, storageClient, store)
	conversationService := service.NewConversationService(conversationRepo)
	chatService := service.NewChatService(ragService, llmClient, conversationRepo, cfg.LLM, cfg.RAG)
	adminService := service.NewAdminService(userRepo, scopeRepo, docRepo, chunkRepo, store)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 健康检查，无需认证
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 9. 注册路由
	authMW := middleware.AuthMiddleware(jwtManager, userService, rdb)
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(authMW)
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Document 路由组，需要认证
		documentHandler := handler.NewDocumentHandler(documentService, userService)
		documents := apiV1.Group("/documents")
		documents.Use(authMW)
		{
			documents.POST("/ingest", documentHandler.Ingest)
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.DELETE("/:docId", documentHandler.Delete)
		}

		// Search 路由组
		search := apiV1.Group("/search")
		search.Use(authMW)
		{
			search.GET("", handler.NewSearchHandler(ragService).Search)
		}

		// Conversation 路由组
		conversation := apiV1.Group("/users/conversation")
		conversation.Use(authMW)
		{
			conversation.GET("", handler.NewConversationHandler(conversationService).GetConversations)
		}

		// Chat 路由 (WebSocket)，token 在 URL 中自行验证
		r.GET("/chat/:token", handler.NewChatHandler(chatService, userService, jwtManager).Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(authMW, middleware.AdminAuthMiddleware())
		{
			adminHandler := handler.NewAdminHandler(adminService)
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.POST("/scopes", adminHandler.CreateScope)
			admin.GET("/scopes", adminHandler.ListScopes)
			admin.DELETE("/scopes/:name/data", adminHandler.PurgeScope)
		}
	}

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

	// 先停止消费新任务，再关闭 HTTP 服务器
	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	redisDriver "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"anon-chat/internal/chatlist"
	"anon-chat/internal/config"
	"anon-chat/internal/handlers/apiserver"
	appKafka "anon-chat/internal/kafka"
	"anon-chat/internal/logger"
	"anon-chat/internal/middleware"
	"anon-chat/internal/realtime"
	appRedis "anon-chat/internal/redis"
	"anon-chat/internal/services"
	"anon-chat/internal/storage"
	"anon-chat/internal/watermark"
	ws "anon-chat/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，默认查找 ./config/config.yaml")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogLevel == "debug")
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zl = zl.With(zap.String("app", cfg.AppName), zap.String("version", cfg.AppVersion))

	if err := run(cfg, zl); err != nil {
		zl.Fatal("api server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, zl *zap.Logger) error {
	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database, zl)
	if err != nil {
		return fmt.Errorf("初始化数据库: %w", err)
	}
	if err := storage.AutoMigrateTables(db, zl); err != nil {
		return fmt.Errorf("数据库表迁移: %w", err)
	}

	// 3. 初始化 Redis Client
	redisClient := redisDriver.NewClient(&redisDriver.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("无法连接到 Redis: %w", err)
	}
	zl.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)

	var bus realtime.Bus = realtime.NewLocalBus()
	if cfg.Chat.RealtimeBackend == "redis" {
		bus = appRedis.NewRedisBus(redisClient, zl)
	}
	var marks watermark.Store = watermark.NewMemoryStore()
	if cfg.Chat.WatermarkBackend == "redis" {
		marks = appRedis.NewRedisWatermarkStore(redisClient)
	}
	zl.Info("chat backends ready",
		zap.String("realtime", cfg.Chat.RealtimeBackend),
		zap.String("watermark", cfg.Chat.WatermarkBackend))

	// 4. 初始化 Repositories
	userRepo := storage.NewGormUserRepository(db)
	groupRepo := storage.NewGormGroupRepository(db)
	directRepo := storage.NewGormDirectConversationRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	reportRepo := storage.NewGormReportRepository(db)

	// 5. 初始化 Kafka Producer（仅用于举报）
	var publisher services.ReportPublisher
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, zl)
		if err != nil {
			return fmt.Errorf("创建 Kafka 生产者: %w", err)
		}
		defer producer.Close()
		publisher = appKafka.NewReportPublisher(producer, cfg.Kafka.ReportsTopic, zl)
	} else {
		zl.Info("kafka disabled, reports are stored only")
	}

	// 6. 初始化 Services
	authService := services.NewAuthService(userRepo, tokenBlacklist, cfg.Auth, zl)
	userService := services.NewUserService(userRepo, bus, zl)
	groupService := services.NewGroupService(groupRepo, userRepo, bus, cfg.Chat.PublicBaseURL, zl)
	chatService := services.NewChatService(groupRepo, userRepo, directRepo, msgRepo, marks, bus, zl)
	chatListService := services.NewChatListService(groupRepo, userRepo, directRepo, msgRepo, zl)
	safetyService := services.NewSafetyService(userRepo, groupRepo, reportRepo, publisher, bus, zl)

	feed := realtime.NewQueryFeed(bus, msgRepo, zl)
	views := chatlist.NewFactory(chatListService, chatService, feed, msgRepo, marks, bus, cfg.Chat.UnreadWindow, zl)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := ws.NewHub(zl)
	go hub.Run(rootCtx)

	// 7. 初始化 Handlers 并设置路由
	router := apiserver.NewRouter(apiserver.Handlers{
		Auth:         apiserver.NewAuthHandler(authService, zl),
		User:         apiserver.NewUserHandler(userService, zl),
		Group:        apiserver.NewGroupHandler(groupService, cfg.Chat.QRCodeSize, zl),
		Conversation: apiserver.NewConversationHandler(chatService, views, hub, cfg.WebSocket, zl),
		Safety:       apiserver.NewSafetyHandler(safetyService, zl),
	}, middleware.AuthMiddleware(cfg.Auth, tokenBlacklist, zl))

	// 定义 CORS 选项，从配置中读取
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	// 8. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handlers.CORS(corsOptions...)(router),
		ReadTimeout:  cfg.APIServer.ReadTimeout,
		WriteTimeout: cfg.APIServer.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("api server listening", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("API 服务器启动失败: %w", err)
	}

	// 先关闭所有聊天列表连接，再关闭 HTTP 服务器
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("API 服务器强制关闭: %w", err)
	}
	zl.Info("api server stopped")
	return nil
}

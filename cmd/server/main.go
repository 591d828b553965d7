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

	"go.uber.org/zap"

	"freightdesk/internal/config"
	"freightdesk/internal/handler"
	"freightdesk/internal/infrastructure/cache"
	"freightdesk/internal/infrastructure/database"
	"freightdesk/internal/infrastructure/lock"
	"freightdesk/internal/infrastructure/logging"
	"freightdesk/internal/infrastructure/mq"
	"freightdesk/internal/infrastructure/notify"
	"freightdesk/internal/job"
	"freightdesk/internal/repository"
	"freightdesk/internal/repository/memory"
	"freightdesk/internal/service"
	"freightdesk/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 初始化 ID 生成器
	idgen.Init(int64(cfg.Server.WorkerID))

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	// 初始化 Redis
	redisClient, err := cache.InitRedis(&cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// 初始化 Kafka，未启用时 outbox 消息只记日志
	var publisher mq.Publisher = mq.NewLogPublisher(logger)
	if cfg.Kafka.Enabled {
		producer, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			return fmt.Errorf("初始化 Kafka 失败: %w", err)
		}
		defer producer.Close()
		publisher = producer
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Firebase.Enabled {
		fcm, err := notify.NewFCMNotifier(ctx, cfg.Firebase, logger)
		if err != nil {
			return fmt.Errorf("初始化 FCM 失败: %w", err)
		}
		notifier = fcm
	}

	biz := cfg.Business
	locker := lock.NewLocker(redisClient, biz.LockTTL, biz.LockRetryInterval, biz.LockMaxRetries)
	rates := service.NewShippingRateService(store, redisClient, biz.RateCacheTTL, logger)
	ledger := service.NewLedgerService(store, locker, cfg.Kafka.Topic.Ledger, logger)
	orders := service.NewOrderService(store, locker, rates, ledger, notifier, cfg, logger)
	customers := service.NewCustomerService(store)

	// 启动后台任务
	outboxSender := job.NewOutboxSender(store, publisher, biz.OutboxInterval, biz.MaxRetryCount, logger)
	go outboxSender.Start(ctx)

	auditJob := job.NewLedgerAuditJob(store, ledger, biz.LedgerAuditInterval, logger)
	go auditJob.Start(ctx)

	// 设置路由
	auth := handler.NewAuthenticator(cfg.Auth)
	router := handler.SetupRouter(handler.NewHandler(orders, ledger, customers, rates, logger), auth, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("HTTP 服务异常: %w", err)
	}

	logger.Info("正在关闭服务...")

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("服务关闭异常", zap.Error(err))
	}

	// 停止后台任务，等待在途推送
	cancel()
	outboxSender.Stop()
	auditJob.Stop()
	orders.Wait()

	logger.Info("服务已关闭")
	return nil
}

// openStore 按 storage.driver 选择存储实现
func openStore(cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("使用内存存储，重启后数据丢失")
		return memory.NewStore(), nil
	case "", "mysql":
		db, err := database.InitMySQL(&cfg.MySQL, logger)
		if err != nil {
			return nil, err
		}
		return repository.NewGormStore(db), nil
	default:
		return nil, fmt.Errorf("未知存储驱动: %s", cfg.Storage.Driver)
	}
}

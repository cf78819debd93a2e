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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jastip/internal/config"
	"jastip/internal/database"
	"jastip/internal/maintenance"
	"jastip/internal/monitor"
	"jastip/internal/notify"
	"jastip/internal/payment"
	"jastip/internal/queue"
	"jastip/internal/redis"
	"jastip/internal/repository"
	"jastip/internal/service/order"
	"jastip/internal/stocklock"
	"jastip/internal/worker"
	"jastip/pkg/log"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}
	config.GlobalConfig = cfg

	log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})

	if err := database.Init(cfg); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize database")
	}
	defer database.Close()

	if err := redis.Init(cfg); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize redis")
	}
	defer redis.Close()

	// The queue runs on its own direct connection. A pooler that
	// reassigns sessions between statements would break lease
	// exclusivity, so a pooled connection is a fatal misconfiguration.
	queueDB, err := database.OpenDirect(cfg)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to open direct database connection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RequireDirectConn() {
		if err := database.ValidateDirectConnection(ctx, queueDB); err != nil {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Queue connection validation failed")
		}
	}

	db := database.GetDB()
	redisClient := redis.GetClient()

	var metrics *monitor.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitor.NewMetrics(cfg.Metrics.Namespace)
	}

	orderRepo := repository.NewOrderRepository(db)
	productRepo := repository.NewProductRepository(db)
	locks := stocklock.NewService(productRepo)

	queueService := queue.NewService(queue.NewStore(queueDB), queue.Config{
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		BackoffBase:       cfg.Queue.BackoffBase,
		BackoffCap:        cfg.Queue.BackoffCap,
	})
	producer := queue.NewProducer(queueService, metrics)

	orderService := order.NewOrderService(
		orderRepo, productRepo, locks,
		payment.NewLogRefundProvider(), producer,
		order.Config{AutoRefundGrace: cfg.Order.AutoRefundGrace},
	)
	notifier := notify.NewGatewayNotifier(cfg.Notification)

	w := worker.New(queueService, worker.NewHandlers(orderService, notifier), metrics, worker.Config{
		BatchSize:       cfg.Worker.BatchSize,
		Concurrency:     cfg.Worker.Concurrency,
		PollInterval:    cfg.Worker.PollInterval,
		HandlerTimeout:  cfg.Worker.HandlerTimeout,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	})

	runner := maintenance.NewRunner(locks, orderRepo, producer, redisClient, metrics, maintenance.Config{
		CleanupInterval:        cfg.StockLock.CleanupInterval,
		SyncInterval:           cfg.StockLock.SyncInterval,
		AutoRefundScanInterval: cfg.Order.AutoRefundScanInterval,
		AutoRefundGrace:        cfg.Order.AutoRefundGrace,
		InstanceID:             uuid.NewString(),
	})

	workerDone := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(workerDone)
	}()
	go runner.Start(ctx)

	healthServer := startHealthServer(cfg, w, producer)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")

	// Stop leasing and wait for the drain before cancelling ctx.
	// Cancelling first would abort in-flight handlers, turning a clean
	// shutdown into a round of spurious retries.
	w.Stop()
	<-workerDone
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Warn("Health server forced to shutdown")
	}

	log.Info("Worker exited")
}

// startHealthServer serves liveness and queue visibility for operators
func startHealthServer(cfg *config.Config, w *worker.Worker, producer *queue.Producer) *http.Server {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		status := w.GetStatus()
		code := http.StatusOK
		if !status.Running {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Unix(),
		})
	})
	router.GET("/queue/stats", func(c *gin.Context) {
		stats, err := producer.GetQueueStatus(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Worker.HealthPort),
		Handler: router,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"port": cfg.Worker.HealthPort,
		}).Info("Starting worker health server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Failed to start health server")
		}
	}()

	return server
}

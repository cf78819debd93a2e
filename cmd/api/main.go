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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jastip/internal/config"
	"jastip/internal/database"
	"jastip/internal/handler"
	"jastip/internal/middleware"
	"jastip/internal/monitor"
	"jastip/internal/payment"
	"jastip/internal/queue"
	"jastip/internal/redis"
	"jastip/internal/repository"
	"jastip/internal/service/checkout"
	"jastip/internal/service/order"
	"jastip/internal/stocklock"
	"jastip/pkg/log"
	"jastip/pkg/snowflake"
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

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	db := database.GetDB()
	redisClient := redis.GetClient()

	var metrics *monitor.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitor.NewMetrics(cfg.Metrics.Namespace)
	}

	orderRepo := repository.NewOrderRepository(db)
	productRepo := repository.NewProductRepository(db)

	idGenerator, err := snowflake.NewIDGenerator(1)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to create ID generator")
	}

	locks := stocklock.NewService(productRepo)

	queueService := queue.NewService(queue.NewStore(db), queue.Config{
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		BackoffBase:       cfg.Queue.BackoffBase,
		BackoffCap:        cfg.Queue.BackoffCap,
	})
	producer := queue.NewProducer(queueService, metrics)

	orderService := order.NewOrderService(orderRepo, productRepo, locks, payment.NewLogRefundProvider(), producer, order.Config{
		AutoRefundGrace: cfg.Order.AutoRefundGrace,
	})
	checkoutService := checkout.NewCheckoutService(
		orderRepo, productRepo, locks, producer, redisClient, idGenerator,
		checkout.Config{
			DownPaymentDeadline: cfg.Order.DownPaymentDeadline,
			LockTTL:             cfg.StockLock.DefaultTTL,
		},
	)

	router := setupRouter(cfg, metrics, checkoutService, orderService, orderRepo, producer, locks)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Server forced to shutdown")
	}

	log.Info("Server exited")
}

func setupRouter(
	cfg *config.Config,
	metrics *monitor.Metrics,
	checkoutService checkout.CheckoutService,
	orderService order.OrderService,
	orderRepo repository.OrderRepository,
	producer *queue.Producer,
	locks *stocklock.Service,
) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())

	router.GET("/health", healthCheck)
	router.GET("/ping", ping)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	checkoutHandler := handler.NewCheckoutHandler(checkoutService, metrics)
	orderHandler := handler.NewOrderHandler(orderService, orderRepo)
	queueHandler := handler.NewQueueHandler(producer, locks)

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/health", healthCheck)

			orders := v1.Group("/orders")
			orders.Use(middleware.RateLimit(100, 200))
			{
				orders.POST("/checkout", checkoutHandler.Checkout)
				orders.GET("/:order_no", orderHandler.GetOrder)
				orders.POST("/:order_no/pay", orderHandler.ConfirmDownPayment)
			}

			admin := v1.Group("/admin")
			{
				admin.POST("/orders/:order_no/validate", orderHandler.ValidateOrder)
				admin.GET("/queue/stats", queueHandler.GetStats)
			}
		}
	}

	return router
}

func healthCheck(c *gin.Context) {
	dbErr := database.Health()
	redisErr := redis.Health()

	health := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"services": gin.H{
			"database": healthEntry(dbErr),
			"redis":    healthEntry(redisErr),
		},
	}

	if dbErr != nil || redisErr != nil {
		health["status"] = "error"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}

func healthEntry(err error) gin.H {
	if err != nil {
		return gin.H{"healthy": false, "error": err.Error()}
	}
	return gin.H{"healthy": true}
}

func ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "pong",
		"timestamp": time.Now().Unix(),
	})
}

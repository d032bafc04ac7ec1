// Command hubserver is the demo binary wiring configuration, logging,
// metrics, a broker adapter, the lifetime manager, and the gin/websocket
// transport into one running server.
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feckardt/hublifetime/internal/authjwt"
	"github.com/feckardt/hublifetime/internal/broker"
	"github.com/feckardt/hublifetime/internal/broker/natsbroker"
	"github.com/feckardt/hublifetime/internal/broker/redisbroker"
	"github.com/feckardt/hublifetime/internal/config"
	"github.com/feckardt/hublifetime/internal/hubcore"
	"github.com/feckardt/hublifetime/internal/hubproto"
	"github.com/feckardt/hublifetime/internal/hublifetime"
	"github.com/feckardt/hublifetime/internal/logging"
	"github.com/feckardt/hublifetime/internal/metrics"
	"github.com/feckardt/hublifetime/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	brk, err := newBroker(cfg.Broker, logger)
	if err != nil {
		return fmt.Errorf("hubserver: create broker: %w", err)
	}

	reg := metrics.NewRegistry()
	authManager := authjwt.NewManager(cfg.Auth.SecretKey, cfg.Auth.TokenDuration)
	protocol := hubproto.JSONProtocol{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := hublifetime.New(ctx, brk, hublifetime.Options{
		HubTypeName: cfg.Hub.TypeName,
		Protocols:   []hubcore.HubProtocol{hubproto.JSONProtocol{}, hubproto.JSONCamelProtocol{}},
		AckTimeout:  cfg.Hub.AckTimeout,
		Logger:      logger,
		Metrics:     reg,
	})
	if err != nil {
		return fmt.Errorf("hubserver: create manager: %w", err)
	}
	logger.Info("lifetime manager started", zap.String("serverName", manager.ServerName()))

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", transport.ServeWS(manager, authManager, protocol, logger))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/auth/token", func(c *gin.Context) {
		userID := c.Query("userID")
		if userID == "" {
			userID = "demo-user"
		}
		token, err := authManager.Generate(userID, userID, "user")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Endpoint, reg.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux}
		go func() {
			logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
	if err := manager.Dispose(shutdownCtx); err != nil {
		logger.Warn("manager dispose error", zap.Error(err))
	}

	return nil
}

func newBroker(cfg config.BrokerConfig, logger *zap.Logger) (broker.Broker, error) {
	switch cfg.Kind {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b, err := redisbroker.Connect(client)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis broker", zap.String("addr", cfg.Redis.Addr))
		return b, nil
	case "nats", "":
		natsCfg := natsbroker.Config{
			URL:             cfg.NATS.URL,
			MaxReconnects:   cfg.NATS.MaxReconnects,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			ReconnectJitter: cfg.NATS.ReconnectJitter,
			MaxPingsOut:     cfg.NATS.MaxPingsOut,
			PingInterval:    cfg.NATS.PingInterval,
		}
		b, err := natsbroker.Connect(natsCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to nats broker", zap.String("url", cfg.NATS.URL))
		return b, nil
	default:
		return nil, fmt.Errorf("hubserver: unknown broker kind %q", cfg.Kind)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/client/internal/auth"
	"feedsync/client/internal/channel"
	"feedsync/client/internal/config"
	"feedsync/client/internal/gate"
	"feedsync/client/internal/logging"
	"feedsync/client/internal/metrics"
	"feedsync/client/internal/remote"
	"feedsync/client/internal/router"
	"feedsync/client/internal/session"
	"feedsync/client/internal/status"
	"feedsync/client/internal/supervisor"
	"feedsync/client/internal/syncer"
	"feedsync/client/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 参数用 flag，敏感信息（token / 邮箱密码）用环境变量：
	// - FEEDSYNC_TOKEN：会话 bearer token
	// - FEEDSYNC_EMAIL / FEEDSYNC_PASSWORD：没有 token 时用于登录
	// 都没有时以未登录状态启动
	configPath := flag.String("config", "client/configs/feedsync.yaml", "config file path")
	addr := flag.String("addr", "", "status server listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Status.Addr = *addr
	}

	logCloser := logging.Setup(cfg.Logging)
	defer logCloser.Close()
	logger := logging.New("feedsync")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动时没有凭证也可以运行，之后通过 POST /api/session 登录
	client := remote.New(cfg.Remote.BaseURL, "", cfg.Remote.Timeout)
	var initial auth.Session
	if cfg.Remote.Token != "" || cfg.Remote.Email != "" {
		initial, err = auth.Resolve(ctx, client, cfg.Remote.Token, cfg.Remote.Email, cfg.Remote.Password)
		if err != nil {
			log.Fatalf("resolve session: %v", err)
		}
		logger.Printf("✅ session resolved for %q", initial.Identity)
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, initial.Identity.String())
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	source, sourceCloser, err := buildSource(cfg.Channel)
	if err != nil {
		log.Fatalf("init channel: %v", err)
	}
	defer sourceCloser.Close()

	sup := supervisor.New(source, nil, m)
	var connector supervisor.Connector = sup
	if cfg.Reconnect.Enabled {
		connector = supervisor.NewReconnector(sup, supervisor.ReconnectPolicy{
			Attempts:     cfg.Reconnect.Attempts,
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			MaxJitter:    cfg.Reconnect.MaxJitter,
		}, nil, m)
	}

	views := syncer.New(client, nil, m)
	notifications := router.New(views, router.NewRecentLog(cfg.Router.RecentCapacity), cfg.Router.RefreshPattern, nil, m)
	sessions := gate.New(connector, views, notifications, nil)
	sup.OnNotification(sessions.HandleNotification)
	manager := session.NewManager(client, sessions, nil)
	sup.OnStateChange(func(c supervisor.StateChange) {
		logger.Printf("connection %s -> %s (%s)", c.From, c.To, c.Reason)
	})

	server := &http.Server{
		Addr: cfg.Status.Addr,
		Handler: status.NewServer(status.Options{
			Gate:           sessions,
			Sessions:       manager,
			Syncer:         views,
			Router:         notifications,
			Connector:      connector,
			Gatherer:       reg,
			AllowedOrigins: cfg.Status.AllowedOrigins,
		}).Routes(),
	}
	go func() {
		logger.Printf("status server listening on %s", cfg.Status.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	if initial.Identity.Valid() {
		if err := manager.Begin(ctx, initial); err != nil {
			logger.Printf("❌ channel not opened: %v", err)
		}
	}

	<-ctx.Done()
	logger.Printf("shutting down")

	sessions.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("status server shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown: %v", err)
	}
}

// buildSource 按配置选择推送通道的传输实现。
func buildSource(cfg config.ChannelConfig) (channel.Source, io.Closer, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		return channel.NewWebSocketSource(channel.WebSocketConfig{
			URL:              cfg.URL,
			HandshakeTimeout: cfg.HandshakeTimeout,
			PingInterval:     cfg.PingInterval,
		}, nil), nopCloser{}, nil
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return channel.NewRedisSource(client, cfg.Redis.ChannelPrefix, nil), client, nil
	case config.TransportKafka:
		return channel.NewKafkaSource(channel.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, nil), nopCloser{}, nil
	default:
		return nil, nil, errors.New("unknown channel transport " + cfg.Transport)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

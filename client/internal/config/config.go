package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Remote    RemoteConfig    `yaml:"remote"`
	Channel   ChannelConfig   `yaml:"channel"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Router    RouterConfig    `yaml:"router"`
	Status    StatusConfig    `yaml:"status"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// RemoteConfig 远端 REST 服务
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Token 会话 bearer 凭证，通常只从环境变量注入
	Token    string `yaml:"token"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// 推送通道的传输实现
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportKafka     = "kafka"
)

type ChannelConfig struct {
	Transport        string        `yaml:"transport"` // websocket | redis | kafka
	URL              string        `yaml:"url"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Redis            RedisConfig   `yaml:"redis"`
	Kafka            KafkaConfig   `yaml:"kafka"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// ReconnectConfig 断线重连装饰器；默认关闭，保持“断了就是断了”的行为
type ReconnectConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Attempts     uint          `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxJitter    time.Duration `yaml:"max_jitter"`
}

type RouterConfig struct {
	RecentCapacity int    `yaml:"recent_capacity"`
	RefreshPattern string `yaml:"refresh_pattern"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins 允许跨域访问状态接口的前端地址
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"` // stderr | stdout | 文件路径
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default 返回本地开发可直接跑的默认配置
func Default() Config {
	return Config{
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 15 * time.Second,
		},
		Channel: ChannelConfig{
			Transport:        TransportWebSocket,
			URL:              "ws://localhost:8000/ws",
			PingInterval:     25 * time.Second,
			HandshakeTimeout: 20 * time.Second,
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				ChannelPrefix: "notifications:",
			},
			Kafka: KafkaConfig{
				Topic:   "notifications",
				GroupID: "feedsync",
			},
		},
		Reconnect: ReconnectConfig{
			Attempts:     5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			MaxJitter:    250 * time.Millisecond,
		},
		Router: RouterConfig{
			RecentCapacity: 10,
			RefreshPattern: "created a new post",
		},
		Status: StatusConfig{
			Addr:           "127.0.0.1:8090",
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "feedsync",
			SampleRatio: 1.0,
		},
	}
}

// Load 从文件加载配置，未出现的字段保留默认值
func Load(path string) (*Config, error) {
	fmt.Printf("📋 Loading config from: %s\n", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	fmt.Printf("\n📊 Configuration Summary:\n")
	fmt.Printf("   Remote: %s\n", cfg.Remote.BaseURL)
	fmt.Printf("   Channel: %s %s\n", cfg.Channel.Transport, cfg.Channel.URL)
	fmt.Printf("   Reconnect: %v\n", cfg.Reconnect.Enabled)
	fmt.Printf("   Status: %s\n", cfg.Status.Addr)
	fmt.Printf("\n")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	fmt.Printf("✅ Config validation passed\n\n")

	return &cfg, nil
}

// applyEnv 用环境变量覆盖敏感信息和部署相关地址
func (c *Config) applyEnv() {
	if token := os.Getenv("FEEDSYNC_TOKEN"); token != "" {
		fmt.Printf("🔑 Using FEEDSYNC_TOKEN from environment variable\n")
		c.Remote.Token = token
	}
	if email := os.Getenv("FEEDSYNC_EMAIL"); email != "" {
		c.Remote.Email = email
	}
	if password := os.Getenv("FEEDSYNC_PASSWORD"); password != "" {
		c.Remote.Password = password
	}
	if url := os.Getenv("FEEDSYNC_API_URL"); url != "" {
		c.Remote.BaseURL = url
	}
	if url := os.Getenv("FEEDSYNC_CHANNEL_URL"); url != "" {
		c.Channel.URL = url
	}
	if brokers := os.Getenv("FEEDSYNC_KAFKA_BROKERS"); brokers != "" {
		c.Channel.Kafka.Brokers = strings.Split(brokers, ",")
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required (set FEEDSYNC_API_URL or config)")
	}
	// 都不设置时以未登录状态启动；只给一半凭证视为配置错误
	if c.Remote.Token == "" && (c.Remote.Email == "") != (c.Remote.Password == "") {
		return fmt.Errorf("login credentials need both email and password (set FEEDSYNC_EMAIL and FEEDSYNC_PASSWORD)")
	}
	switch c.Channel.Transport {
	case TransportWebSocket:
		if c.Channel.URL == "" {
			return fmt.Errorf("channel.url is required for websocket transport")
		}
	case TransportRedis:
		if c.Channel.Redis.Addr == "" {
			return fmt.Errorf("channel.redis.addr is required for redis transport")
		}
	case TransportKafka:
		if len(c.Channel.Kafka.Brokers) == 0 || c.Channel.Kafka.Topic == "" {
			return fmt.Errorf("channel.kafka.brokers and channel.kafka.topic are required for kafka transport")
		}
	default:
		return fmt.Errorf("unknown channel.transport %q", c.Channel.Transport)
	}
	if c.Router.RecentCapacity <= 0 {
		return fmt.Errorf("router.recent_capacity must be positive")
	}
	if c.Reconnect.Enabled && c.Reconnect.Attempts == 0 {
		return fmt.Errorf("reconnect.attempts must be positive when reconnect is enabled")
	}
	return nil
}

// Package config loads the demo server's runtime configuration via Viper,
// the same environment/file layering the teacher's go-server-3 uses.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the hub lifetime demo server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Hub     HubConfig     `mapstructure:"hub"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

// ServerConfig contains network level settings for the HTTP/WebSocket listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// HubConfig names the hub type this manager routes invocations for and
// tunes group-management ack timing.
type HubConfig struct {
	TypeName   string        `mapstructure:"type_name"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

// BrokerConfig selects and configures the pub/sub backplane.
type BrokerConfig struct {
	Kind  string      `mapstructure:"kind"` // "nats" or "redis"
	NATS  NATSConfig  `mapstructure:"nats"`
	Redis RedisConfig `mapstructure:"redis"`
}

// NATSConfig configures the natsbroker adapter.
type NATSConfig struct {
	URL             string        `mapstructure:"url"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	ReconnectJitter time.Duration `mapstructure:"reconnect_jitter"`
	MaxPingsOut     int           `mapstructure:"max_pings_out"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
}

// RedisConfig configures the redisbroker adapter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// AuthConfig configures demo JWT issuance.
type AuthConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

// Load reads configuration from environment variables (prefixed HUB_) and
// an optional "hubserver" config file in the working directory or ./config.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("hub.type_name", "demo.ChatHub")
	v.SetDefault("hub.ack_timeout", 5*time.Second)

	v.SetDefault("broker.kind", "nats")
	v.SetDefault("broker.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("broker.nats.max_reconnects", -1)
	v.SetDefault("broker.nats.reconnect_wait", 2*time.Second)
	v.SetDefault("broker.nats.reconnect_jitter", 500*time.Millisecond)
	v.SetDefault("broker.nats.max_pings_out", 3)
	v.SetDefault("broker.nats.ping_interval", 20*time.Second)
	v.SetDefault("broker.redis.addr", "127.0.0.1:6379")
	v.SetDefault("broker.redis.db", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("auth.secret_key", "dev-secret-change-me")
	v.SetDefault("auth.token_duration", 24*time.Hour)

	v.SetConfigName("hubserver")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

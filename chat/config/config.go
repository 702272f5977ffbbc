package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Transport names accepted by chat.transport.
const (
	TransportGorilla = "gorilla"
	TransportCoder   = "coder"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	FiberAddr       string        `mapstructure:"fiber_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ChatConfig struct {
	Transport       string  `mapstructure:"transport"`
	OutboxCapacity  int     `mapstructure:"outbox_capacity"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
	PresenceNotices bool    `mapstructure:"presence_notices"`
	Welcome         bool    `mapstructure:"welcome"`
	HistorySize     int     `mapstructure:"history_size"`
}

type WebSocketConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type NgrokConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Domain    string `mapstructure:"domain"`
	AuthToken string `mapstructure:"authtoken"`
}

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chat      ChatConfig      `mapstructure:"chat"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	Ngrok     NgrokConfig     `mapstructure:"ngrok"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.fiber_addr", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("chat.transport", TransportGorilla)
	v.SetDefault("chat.outbox_capacity", 100)
	v.SetDefault("chat.rate_limit", 0.0)
	v.SetDefault("chat.rate_burst", 10)
	v.SetDefault("chat.presence_notices", true)
	v.SetDefault("chat.welcome", true)
	v.SetDefault("chat.history_size", 200)

	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.ping_period", 54*time.Second)
	v.SetDefault("websocket.max_message_size", 4096)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key", "chatroom:history")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chatroom.events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("ngrok.enabled", false)
	v.SetDefault("ngrok.domain", "")
	v.SetDefault("ngrok.authtoken", "")
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads path (or ./chatroom.yaml when path is empty and the file exists),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("chatroom")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ngrok.authtoken", "CHAT_NGROK_AUTHTOKEN", "NGROK_AUTHTOKEN")

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every setting. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		problems = append(problems, "server.shutdown_timeout must be positive")
	}

	switch c.Chat.Transport {
	case TransportGorilla, TransportCoder:
	default:
		problems = append(problems, fmt.Sprintf("chat.transport %q must be %q or %q", c.Chat.Transport, TransportGorilla, TransportCoder))
	}
	if c.Chat.OutboxCapacity <= 0 {
		problems = append(problems, "chat.outbox_capacity must be positive")
	}
	if c.Chat.RateLimit < 0 {
		problems = append(problems, "chat.rate_limit must not be negative")
	}
	if c.Chat.RateLimit > 0 && c.Chat.RateBurst <= 0 {
		problems = append(problems, "chat.rate_burst must be positive when rate_limit is set")
	}
	if c.Chat.HistorySize <= 0 {
		problems = append(problems, "chat.history_size must be positive")
	}

	ws := c.WebSocket
	if ws.WriteWait <= 0 || ws.PongWait <= 0 || ws.PingPeriod <= 0 {
		problems = append(problems, "websocket timeouts must be positive")
	} else if ws.PingPeriod >= ws.PongWait {
		problems = append(problems, "websocket.ping_period must be less than websocket.pong_wait")
	}
	if ws.MaxMessageSize <= 0 {
		problems = append(problems, "websocket.max_message_size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type PresenceConfig struct {
	IdleThreshold     time.Duration `mapstructure:"idleThreshold"`
	SweepInterval     time.Duration `mapstructure:"sweepInterval"`
	DefaultUsername   string        `mapstructure:"defaultUsername"`
	MaxUsernameLength int           `mapstructure:"maxUsernameLength"`
	SinkBufferSize    int           `mapstructure:"sinkBufferSize"`
}

type WebSocketConfig struct {
	SendBufferSize    int           `mapstructure:"sendBufferSize"`
	MaxMessageSize    int64         `mapstructure:"maxMessageSize"`
	PingInterval      time.Duration `mapstructure:"pingInterval"`
	PongTimeout       time.Duration `mapstructure:"pongTimeout"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout"`
	MessagesPerSecond float64       `mapstructure:"messagesPerSecond"`
	Burst             int           `mapstructure:"burst"`
	AllowedOrigins    []string      `mapstructure:"allowedOrigins"`
}

type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BootstrapServers string `mapstructure:"bootstrapServers"`
	Topic            string `mapstructure:"topic"`
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SessionTTL time.Duration `mapstructure:"sessionTTL"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	// a missing .env file is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("PRESENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Presence.IdleThreshold <= 0 || c.Presence.SweepInterval <= 0 {
		return errors.New("presence idleThreshold and sweepInterval must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return errors.New("websocket pongTimeout must be greater than a positive pingInterval")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return errors.New("websocket sendBufferSize must be positive")
	}
	if c.Kafka.Enabled && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when kafka is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)

	v.SetDefault("presence.idleThreshold", 30*time.Second)
	v.SetDefault("presence.sweepInterval", 5*time.Second)
	v.SetDefault("presence.defaultUsername", "Anonymous")
	v.SetDefault("presence.maxUsernameLength", 64)
	v.SetDefault("presence.sinkBufferSize", 1000)

	v.SetDefault("websocket.sendBufferSize", 256)
	v.SetDefault("websocket.maxMessageSize", 4096)
	v.SetDefault("websocket.pingInterval", 30*time.Second)
	v.SetDefault("websocket.pongTimeout", 60*time.Second)
	v.SetDefault("websocket.writeTimeout", 10*time.Second)
	v.SetDefault("websocket.messagesPerSecond", 60)
	v.SetDefault("websocket.burst", 20)
	v.SetDefault("websocket.allowedOrigins", []string{})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.bootstrapServers", "localhost:9092")
	v.SetDefault("kafka.topic", "presence-events")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.sessionTTL", time.Hour)

	v.SetDefault("metrics.namespace", "presence_gateway")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

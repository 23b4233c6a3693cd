package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-io-live-chatkit/pkg/config"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/pubsub"
)

type Config struct {
	Chatkit   ChatkitConfig
	Transport TransportConfig
	Redis     pubsub.RedisConfig
	Kafka     pubsub.KafkaConfig
	Log       LogConfig
}

type ChatkitConfig struct {
	InstanceLocator string `mapstructure:"instance_locator"`
	UserID          string `mapstructure:"user_id"`
	TokenEndpoint   string `mapstructure:"token_endpoint"`
	TokenKeyID      string `mapstructure:"token_key_id"`
	TokenSecret     string `mapstructure:"token_secret"`
	PlatformDomain  string `mapstructure:"platform_domain"`
}

type TransportConfig struct {
	// Driver is websocket, redis or kafka.
	Driver       string
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Insecure     bool
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// PubSub returns the bus configuration for the redis and kafka drivers.
func (c *Config) PubSub() pubsub.Config {
	return pubsub.Config{Driver: c.Transport.Driver, Redis: c.Redis, Kafka: c.Kafka}
}

func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "chatkit", "")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("chatkit.instance_locator", "")
	v.SetDefault("chatkit.user_id", "")
	v.SetDefault("chatkit.token_endpoint", "")
	v.SetDefault("chatkit.token_key_id", "")
	v.SetDefault("chatkit.token_secret", "")
	v.SetDefault("chatkit.platform_domain", "pusherplatform.io")
	v.SetDefault("transport.driver", "websocket")
	v.SetDefault("transport.dial_timeout", "10s")
	v.SetDefault("transport.max_retries", 5)
	v.SetDefault("transport.retry_backoff", "1s")
	v.SetDefault("transport.insecure", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.group_id", "chatkit-tail")
	v.SetDefault("kafka.auto_offset_reset", "latest")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("chatkit.instance_locator", "CHATKIT_INSTANCE_LOCATOR")
	v.BindEnv("chatkit.user_id", "CHATKIT_USER_ID")
	v.BindEnv("chatkit.token_endpoint", "CHATKIT_TOKEN_ENDPOINT")
	v.BindEnv("chatkit.token_key_id", "CHATKIT_TOKEN_KEY_ID")
	v.BindEnv("chatkit.token_secret", "CHATKIT_TOKEN_SECRET")
	v.BindEnv("transport.driver", "TRANSPORT_DRIVER")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Transport.DialTimeout = parseDuration(v, "transport.dial_timeout", 10*time.Second)
	cfg.Transport.RetryBackoff = parseDuration(v, "transport.retry_backoff", time.Second)
	cfg.Redis.ReadTimeout = parseDuration(v, "redis.read_timeout", 3*time.Second)
	cfg.Redis.WriteTimeout = parseDuration(v, "redis.write_timeout", 3*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}

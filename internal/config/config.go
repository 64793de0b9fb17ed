package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configurable settings for the adapter.  Each field
// corresponds to an environment variable.  Defaults are applied where
// reasonable so the service can run locally with minimal setup.
type Config struct {
	// AMQPURL is the connection string used to connect to the RabbitMQ
	// broker.  An empty value disables the queue consumer and the
	// webhook publisher.
	AMQPURL string
	// AMQPExchange is the topic exchange outgoing messages are
	// published to.
	AMQPExchange string
	// AMQPQueue is the durable queue bound to AMQPExchange.
	AMQPQueue string
	// AMQPBinding is the routing key pattern used when binding the
	// queue.  The last segment of each routing key is the session id.
	AMQPBinding string
	// AMQPWebhookExchange is the direct exchange webhooks are published
	// to.  When empty, webhooks are POSTed to WebhookBase instead.
	AMQPWebhookExchange string

	// WebhookBase is the base URL to which webhook payloads should be
	// delivered.  If left empty and no webhook exchange is set the
	// service will not emit webhooks.
	WebhookBase string
	// SessionStore is the directory on disk where session databases are
	// persisted, one subdirectory per session identifier.
	SessionStore string
	// HTTPAddr is the host:port on which to expose the HTTP API and
	// health checks.
	HTTPAddr string
	// RedisURL enables session status keys and per-session overrides.
	RedisURL string

	LogLevel  string
	LogFormat string

	// DefaultRegion is the ISO region used to parse recipients written
	// without a country code.
	DefaultRegion string
	// EmitOwnEvents publishes an outgoing-message webhook after each
	// interactive send to a private chat.
	EmitOwnEvents bool
	// SendRatePerSecond and SendBurst configure the per-session send
	// limiter.  A rate of zero disables limiting.
	SendRatePerSecond float64
	SendBurst         int
	// SendTimeout bounds the wait for the server ack of a single send.
	SendTimeout time.Duration

	// set records which variables were present in the environment, so
	// per-session Redis overrides only apply where env is silent.
	set map[string]bool
}

// NewConfig reads configuration from the environment (and an optional
// .env file) and returns a populated Config instance.
func NewConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{set: map[string]bool{}}
	cfg.AMQPURL = cfg.getEnv("AMQP_URL", "")
	cfg.AMQPExchange = cfg.getEnv("AMQP_EXCHANGE", "unoapi.outgoing")
	cfg.AMQPQueue = cfg.getEnv("AMQP_QUEUE", "provider.whatsmeow.buttons")
	cfg.AMQPBinding = cfg.getEnv("AMQP_BINDING", "provider.whatsmeow.*")
	cfg.AMQPWebhookExchange = cfg.getEnv("AMQP_WEBHOOK_EXCHANGE", "")
	cfg.WebhookBase = cfg.getEnv("WEBHOOK_BASE", "")
	cfg.SessionStore = cfg.getEnv("SESSION_STORE", "./state/whatsmeow")
	cfg.HTTPAddr = cfg.getEnv("HTTP_ADDR", ":8080")
	cfg.RedisURL = cfg.getEnv("REDIS_URL", "")
	cfg.LogLevel = cfg.getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = cfg.getEnv("LOG_FORMAT", "json")
	cfg.DefaultRegion = strings.ToUpper(cfg.getEnv("DEFAULT_REGION", "BR"))
	cfg.EmitOwnEvents = cfg.getBoolEnv("EMIT_OWN_EVENTS", false)
	cfg.SendRatePerSecond = cfg.getFloatEnv("SEND_RATE_PER_SECOND", 0)
	cfg.SendBurst = cfg.getIntEnv("SEND_BURST", 1)
	cfg.SendTimeout = cfg.getDurationEnv("SEND_TIMEOUT", 30*time.Second)
	return cfg
}

// IsSet reports whether key was explicitly provided in the environment.
func (c *Config) IsSet(key string) bool {
	return c != nil && c.set[key]
}

// getEnv returns the value of the environment variable named by key.  If
// the variable is not present or empty then defaultVal is returned.
func (c *Config) getEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		c.set[key] = true
		return strings.TrimSpace(val)
	}
	return defaultVal
}

func (c *Config) getBoolEnv(key string, defaultVal bool) bool {
	v := c.getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		delete(c.set, key)
		return defaultVal
	}
	return b
}

func (c *Config) getIntEnv(key string, defaultVal int) int {
	v := c.getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		delete(c.set, key)
		return defaultVal
	}
	return i
}

func (c *Config) getFloatEnv(key string, defaultVal float64) float64 {
	v := c.getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		delete(c.set, key)
		return defaultVal
	}
	return f
}

// getDurationEnv accepts Go durations ("15s") or a bare number of seconds.
func (c *Config) getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := c.getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	delete(c.set, key)
	return defaultVal
}

package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Ledger    LedgerConfig
	Events    EventsConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool

	// InMemory swaps Postgres for the in-process store (local development).
	InMemory bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
}

type LedgerConfig struct {
	StartingBalance   decimal.Decimal
	RetryAttempts     int
	RetryMinInterval  time.Duration
	RetryMaxInterval  time.Duration
	ReconcileInterval time.Duration
	ReconcileBatch    int
	RetryQueueKey     string
	DefaultPageSize   int
	MaxPageSize       int
}

type EventsConfig struct {
	// Driver is one of "redis", "nats" or "none".
	Driver       string
	RedisChannel string
	NATSURL      string
	NATSToken    string
	NATSSubject  string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var envBindings = map[string]string{
	"server.port":               "PORT",
	"server.allowed_origins":    "ALLOWED_ORIGINS",
	"database.host":             "DATABASE_HOST",
	"database.port":             "DATABASE_PORT",
	"database.user":             "DATABASE_USER",
	"database.password":         "DATABASE_PASSWORD",
	"database.name":             "DATABASE_NAME",
	"database.ssl_mode":         "DATABASE_SSL_MODE",
	"database.auto_migrate":     "DATABASE_AUTO_MIGRATE",
	"database.in_memory":        "DATABASE_IN_MEMORY",
	"redis.host":                "REDIS_HOST",
	"redis.port":                "REDIS_PORT",
	"redis.password":            "REDIS_PASSWORD",
	"redis.db":                  "REDIS_DB",
	"jwt.secret_key":            "JWT_SECRET_KEY",
	"ledger.starting_balance":   "LEDGER_STARTING_BALANCE",
	"ledger.retry_attempts":     "LEDGER_RETRY_ATTEMPTS",
	"ledger.retry_min_interval": "LEDGER_RETRY_MIN_INTERVAL",
	"ledger.retry_max_interval": "LEDGER_RETRY_MAX_INTERVAL",
	"ledger.reconcile_interval": "LEDGER_RECONCILE_INTERVAL",
	"ledger.reconcile_batch":    "LEDGER_RECONCILE_BATCH",
	"ledger.retry_queue_key":    "LEDGER_RETRY_QUEUE_KEY",
	"ledger.default_page_size":  "LEDGER_DEFAULT_PAGE_SIZE",
	"ledger.max_page_size":      "LEDGER_MAX_PAGE_SIZE",
	"events.driver":             "EVENTS_DRIVER",
	"events.redis_channel":      "EVENTS_REDIS_CHANNEL",
	"events.nats_url":           "NATS_URL",
	"events.nats_token":         "NATS_TOKEN",
	"events.nats_subject":       "EVENTS_NATS_SUBJECT",
	"rate_limit.per_minute":     "RATE_LIMIT_PER_MINUTE",
	"log.level":                 "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", "http://localhost:3000")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "skillsy")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.in_memory", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ledger.starting_balance", "10.00")
	v.SetDefault("ledger.retry_attempts", 3)
	v.SetDefault("ledger.retry_min_interval", 100*time.Millisecond)
	v.SetDefault("ledger.retry_max_interval", 2*time.Second)
	v.SetDefault("ledger.reconcile_interval", time.Minute)
	v.SetDefault("ledger.reconcile_batch", 50)
	v.SetDefault("ledger.retry_queue_key", "settlement_retry_queue")
	v.SetDefault("ledger.default_page_size", 20)
	v.SetDefault("ledger.max_page_size", 100)

	v.SetDefault("events.driver", "redis")
	v.SetDefault("events.redis_channel", "credits:transactions")
	v.SetDefault("events.nats_url", "nats://localhost:4222")
	v.SetDefault("events.nats_subject", "credits.transactions")

	v.SetDefault("rate_limit.per_minute", 120)
	v.SetDefault("log.level", "info")
}

// Load reads .env (if present) into the process environment, then resolves
// every key from the environment with defaults. Variables already set in the
// environment win over .env.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Infof("No .env file loaded, using environment and defaults: %v", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, env := range envBindings {
		v.BindEnv(key, env)
	}
	setDefaults(v)

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	startingBalance, err := decimal.NewFromString(v.GetString("ledger.starting_balance"))
	if err != nil {
		log.Warnf("Invalid ledger.starting_balance %q, using 10.00", v.GetString("ledger.starting_balance"))
		startingBalance = decimal.NewFromInt(10)
	}

	return &Config{
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			AllowedOrigins: splitList(v.GetString("server.allowed_origins")),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			IdleTimeout:    v.GetDuration("server.idle_timeout"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			InMemory:        v.GetBool("database.in_memory"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Ledger: LedgerConfig{
			StartingBalance:   startingBalance,
			RetryAttempts:     v.GetInt("ledger.retry_attempts"),
			RetryMinInterval:  v.GetDuration("ledger.retry_min_interval"),
			RetryMaxInterval:  v.GetDuration("ledger.retry_max_interval"),
			ReconcileInterval: v.GetDuration("ledger.reconcile_interval"),
			ReconcileBatch:    v.GetInt("ledger.reconcile_batch"),
			RetryQueueKey:     v.GetString("ledger.retry_queue_key"),
			DefaultPageSize:   v.GetInt("ledger.default_page_size"),
			MaxPageSize:       v.GetInt("ledger.max_page_size"),
		},
		Events: EventsConfig{
			Driver:       strings.ToLower(v.GetString("events.driver")),
			RedisChannel: v.GetString("events.redis_channel"),
			NATSURL:      v.GetString("events.nats_url"),
			NATSToken:    v.GetString("events.nats_token"),
			NATSSubject:  v.GetString("events.nats_subject"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: v.GetInt("rate_limit.per_minute"),
		},
		LogLevel: v.GetString("log.level"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

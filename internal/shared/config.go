package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	// payment processor
	ProcessorBase    string
	ProcessorKey     string
	WebhookSecret    string
	ProcessorTimeout time.Duration

	// currency
	BaseCurrency string
	FXFeedBase   string
	FXBases      []string // bases refreshed by ratesync

	SiteURL   string
	JWTSecret string
	AMQPURL   string
	CacheTTL  time.Duration
	Workers   int
}

func Load() Config {
	// .env is optional; production relies on real env vars
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg(".env loaded")
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/staybook?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		ProcessorBase:    env("PROCESSOR_BASE_URL", "https://api.processor.example"),
		ProcessorKey:     env("PROCESSOR_SECRET_KEY", ""),
		WebhookSecret:    env("PROCESSOR_WEBHOOK_SECRET", ""),
		ProcessorTimeout: time.Duration(atoi("PROCESSOR_TIMEOUT_SECONDS", 15)) * time.Second,

		BaseCurrency: env("BASE_CURRENCY", "USD"),
		FXFeedBase:   env("FX_FEED_BASE_URL", "https://rates.example/v1"),
		FXBases:      splitCSV(env("FX_SYNC_BASES", "USD")),

		SiteURL:   env("SITE_URL", "https://staybook.example"),
		JWTSecret: env("JWT_SECRET", ""),
		AMQPURL:   env("AMQP_URL", ""),
		CacheTTL:  time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		Workers:   atoi("RATESYNC_WORKERS", 4),
	}
	if c.ProcessorKey == "" {
		log.Warn().Msg("PROCESSOR_SECRET_KEY is empty")
	}
	if c.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

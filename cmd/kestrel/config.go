package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// loadConfig starts from the tier preset selected by KESTREL_TIER and applies
// KESTREL_* overrides. A .env file in the working directory is read first;
// variables already set in the environment win.
func loadConfig() *domain.Config {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *domain.Config) {
	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)

	cfg.Scoring.Workers = getEnvInt("KESTREL_WORKERS", cfg.Scoring.Workers)
	cfg.Scoring.RulesetPath = getEnv("KESTREL_RULESET_PATH", cfg.Scoring.RulesetPath)
	cfg.Scoring.ModelPath = getEnv("KESTREL_MODEL_PATH", cfg.Scoring.ModelPath)
	cfg.Scoring.LockTTL = getEnvDuration("KESTREL_LOCK_TTL", cfg.Scoring.LockTTL)

	cfg.Predictive.DefaultDealValue = getEnvFloat("KESTREL_DEFAULT_DEAL_VALUE", cfg.Predictive.DefaultDealValue)
	cfg.Predictive.DefaultRetention = getEnvFloat("KESTREL_DEFAULT_RETENTION", cfg.Predictive.DefaultRetention)
	cfg.Predictive.DiscountRate = getEnvFloat("KESTREL_DISCOUNT_RATE", cfg.Predictive.DiscountRate)
	cfg.Predictive.GrossMargin = getEnvFloat("KESTREL_GROSS_MARGIN", cfg.Predictive.GrossMargin)

	repo := &cfg.Repository
	repo.Driver = getEnv("KESTREL_DB_DRIVER", repo.Driver)
	repo.SQLitePath = getEnv("KESTREL_SQLITE_PATH", repo.SQLitePath)
	repo.PostgresHost = getEnv("KESTREL_PG_HOST", repo.PostgresHost)
	repo.PostgresPort = getEnvInt("KESTREL_PG_PORT", repo.PostgresPort)
	repo.PostgresUser = getEnv("KESTREL_PG_USER", repo.PostgresUser)
	repo.PostgresPassword = getEnv("KESTREL_PG_PASSWORD", repo.PostgresPassword)
	repo.PostgresDB = getEnv("KESTREL_PG_DB", repo.PostgresDB)
	repo.PostgresSSLMode = getEnv("KESTREL_PG_SSLMODE", repo.PostgresSSLMode)

	cfg.Cache.Type = getEnv("KESTREL_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("KESTREL_REDIS_DB", cfg.Cache.RedisDB)

	cfg.EventBus.Type = getEnv("KESTREL_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.KafkaBrokers = getEnvList("KESTREL_KAFKA_BROKERS", cfg.EventBus.KafkaBrokers)
	cfg.EventBus.KafkaGroupID = getEnv("KESTREL_KAFKA_GROUP", cfg.EventBus.KafkaGroupID)

	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

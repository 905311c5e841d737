package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the webhook trader.
type Config struct {
	Port string

	// Database
	DBPath string

	// Strategy registry seed file (YAML). Empty disables file seeding.
	StrategyConfig string

	// Auth
	JWTSecret string

	// Paper gateway
	PaperBalances    map[string]float64
	PaperSlippageBps float64
	PaperFeeRate     float64 // decimal (e.g. 0.0004 = 4 bps)

	// Pipeline
	DedupWindowMs   int
	LaneBuffer      int
	ActivityLimit   int // in-memory activity records retained
	LedgerLimit     int // in-memory ledger outcomes retained
	ActivityFlushMs int

	// API
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/webhook_trader.db"),
		StrategyConfig:   getEnv("STRATEGY_CONFIG", "./configs/strategies.yaml"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		PaperBalances:    parseBalances(getEnv("PAPER_BALANCES", "USDT:10000,BTC:0,ETH:0,SOL:0")),
		PaperSlippageBps: getEnvFloat("PAPER_SLIPPAGE_BPS", 10),
		PaperFeeRate:     getEnvFloat("PAPER_FEE_RATE", 0.0004),
		DedupWindowMs:    getEnvInt("DEDUP_WINDOW_MS", 5000),
		LaneBuffer:       getEnvInt("LANE_BUFFER", 64),
		ActivityLimit:    getEnvInt("ACTIVITY_LIMIT", 1000),
		LedgerLimit:      getEnvInt("LEDGER_LIMIT", 1000),
		ActivityFlushMs:  getEnvInt("ACTIVITY_FLUSH_MS", 500),
		RateLimitPerSec:  getEnvFloat("RATE_LIMIT_PER_SEC", 20),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 50),
	}, nil
}

// parseBalances parses "USDT:10000,BTC:0" into asset -> amount.
func parseBalances(val string) map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(kv[0]))] = amount
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

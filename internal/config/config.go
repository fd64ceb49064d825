package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// PricingDeltas holds the price adjustments applied on top of a deal's raw
// buying-side price for one pricing mode.
type PricingDeltas struct {
	CPADelta float64 `validate:"gte=0"`
	CRGDelta float64 `validate:"gte=0"`
	// CRGFloor is the threshold above which CRGDelta applies; zero means
	// the delta always applies.
	CRGFloor float64 `validate:"gte=0"`
	CPLDelta float64 `validate:"gte=0"`
}

type Config struct {
	ProjectID        string `validate:"required"`
	TelegramBotToken string
	GeminiAPIKey     string
	GeminiModel      string `validate:"required"`
	Port             string `validate:"required"`

	ReferenceCacheTTL time.Duration `validate:"gt=0"`
	DealCacheTTL      time.Duration `validate:"gt=0"`
	ResultCacheTTL    time.Duration `validate:"gt=0"`
	SessionTimeout    time.Duration `validate:"gt=0"`

	FirestoreTimeout time.Duration `validate:"gt=0"`
	ExtractorTimeout time.Duration `validate:"gt=0"`
	FirestoreQPS     float64       `validate:"gt=0"`
	MaxRetries       int           `validate:"gte=0"`

	PageSize              int     `validate:"gt=0"`
	PartnerMatchThreshold float64 `validate:"gte=0,lte=1"`

	NetworkPricing PricingDeltas
	BrandPricing   PricingDeltas
}

func Load() (*Config, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required but not set")
	}

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		slog.Warn("TELEGRAM_BOT_TOKEN not set, outbound Telegram delivery will be skipped")
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		slog.Warn("GEMINI_API_KEY not set, query resolution will use exact matching only")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		slog.Info("Defaulting to port", "port", port)
	}

	cfg := &Config{
		ProjectID:        projectID,
		TelegramBotToken: botToken,
		GeminiAPIKey:     geminiKey,
		GeminiModel:      envString("GEMINI_MODEL", "gemini-2.0-flash"),
		Port:             port,
		NetworkPricing: PricingDeltas{
			CPADelta: 50,
			CRGDelta: 0.01,
			CRGFloor: 0.10,
			CPLDelta: 5,
		},
		BrandPricing: PricingDeltas{
			CPADelta: 100,
			CRGDelta: 0,
			CPLDelta: 7,
		},
	}

	var err error
	if cfg.ReferenceCacheTTL, err = envDuration("REFERENCE_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.DealCacheTTL, err = envDuration("DEAL_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ResultCacheTTL, err = envDuration("RESULT_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionTimeout, err = envDuration("SESSION_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FirestoreTimeout, err = envDuration("FIRESTORE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ExtractorTimeout, err = envDuration("EXTRACTOR_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.FirestoreQPS, err = envFloat("FIRESTORE_QPS", 5); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = envInt("PAGE_SIZE", 4); err != nil {
		return nil, err
	}
	if cfg.PartnerMatchThreshold, err = envFloat("PARTNER_MATCH_THRESHOLD", 0.8); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

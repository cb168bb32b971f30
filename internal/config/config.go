package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	EnginesFile string
	WhiteEngine string
	BlackEngine string

	TimeControl string
	Games       int
	StartFEN    string
	MaxPlies    int

	// Polyglot book; each color-swapped pair of games shares one random line
	OpeningBook string
	BookDepth   int

	RedisURL    string
	RecordTTL   time.Duration
	DatabaseURL string

	ResultWebhookURL   string
	ResultWebhookToken string
	MonitorAddr        string

	// 엔진 타임아웃 배율 덮어쓰기 (0이면 엔진 설정을 따른다)
	TimeoutScale float64
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		EnginesFile: "engines.yaml",
		TimeControl: "40/60",
		Games:       1,
		RecordTTL:   7 * 24 * time.Hour,
		BookDepth:   8,
	}

	if v := strings.TrimSpace(os.Getenv("ENGINES_FILE")); v != "" {
		cfg.EnginesFile = v
	}
	cfg.WhiteEngine = strings.TrimSpace(os.Getenv("WHITE_ENGINE"))
	cfg.BlackEngine = strings.TrimSpace(os.Getenv("BLACK_ENGINE"))

	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL")); v != "" {
		cfg.TimeControl = v
	}
	if v := strings.TrimSpace(os.Getenv("GAMES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Games = n
		}
	}
	cfg.StartFEN = strings.TrimSpace(os.Getenv("START_FEN"))
	if v := strings.TrimSpace(os.Getenv("MAX_PLIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxPlies = n
		}
	}

	cfg.OpeningBook = strings.TrimSpace(os.Getenv("OPENING_BOOK"))
	if v := strings.TrimSpace(os.Getenv("BOOK_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.BookDepth = n
		}
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("RECORD_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RecordTTL = d
		}
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.ResultWebhookURL = strings.TrimSpace(os.Getenv("RESULT_WEBHOOK_URL"))
	cfg.ResultWebhookToken = strings.TrimSpace(os.Getenv("RESULT_WEBHOOK_TOKEN"))
	cfg.MonitorAddr = strings.TrimSpace(os.Getenv("MONITOR_ADDR"))

	if v := strings.TrimSpace(os.Getenv("ENGINE_TIMEOUT_SCALE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.TimeoutScale = f
		}
	}

	if cfg.WhiteEngine == "" {
		return nil, errors.New("WHITE_ENGINE is required")
	}
	if cfg.BlackEngine == "" {
		return nil, errors.New("BLACK_ENGINE is required")
	}

	return cfg, nil
}

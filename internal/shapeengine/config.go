package shapeengine

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"shapefinder/config"
	"shapefinder/internal/logger"
	"shapefinder/internal/markethours"
	"shapefinder/internal/model"
	"shapefinder/internal/shape"
)

// Config holds all env-parsed configuration for the shape engine service.
type Config struct {
	RedisAddr          string
	RedisPassword      string
	SQLitePath         string
	SQLiteRequired     bool
	ArchiveCandles     bool // copy consumed candles into SQLite
	ConsumerGroup      string
	ConsumerName       string
	EnabledTFs         []int
	SnapshotIntervalS  int
	SubscribeTokenKeys []string // "exchange:token" keys
	SnapshotKey        string
	ConfigChannel      string
	HTTPAddr           string
	PELIntervalS       int
	PELMinIdleMs       int64
	BackfillDepth      int // candles per instrument read from SQLite; 0 = 4 windows

	// Redis write protection
	BreakerFailures int
	BreakerReset    time.Duration
	BufferMax       int

	Field         model.Field
	Shape         shape.Config
	OverridesPath string
	Overrides     *config.Overrides

	// Alerts (log only when both are empty)
	WebhookURL      string
	TelegramToken   string
	TelegramChatID  string
	AlertSession    *markethours.Session // nil = alert around the clock
	AlertRatePerMin int                  // 0 = no cap
	AlertBurst      int

	// HTTP API
	AnalyzeRPS    float64 // per client IP; 0 = no limit
	AnalyzeBurst  int
	ControlSecret string // HS256 key for POST /detectors/reset; empty = open

	LogLevel slog.Level
}

// LoadConfig reads .env and the environment. Shape parameters are checked
// up front: a bad SHAPE_* value or override file is an error, not a default.
func LoadConfig() (Config, error) {
	config.LoadDotEnv()

	pelMinIdle, _ := strconv.ParseInt(config.GetEnv("PEL_MIN_IDLE_MS", "60000"), 10, 64)
	if pelMinIdle <= 0 {
		pelMinIdle = 60000
	}

	cfg := Config{
		RedisAddr:          config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      config.GetEnv("REDIS_PASSWORD", ""),
		SQLitePath:         config.GetEnv("SQLITE_PATH", "data/candles.db"),
		SQLiteRequired:     config.GetEnv("SQLITE_REQUIRED", "false") == "true",
		ArchiveCandles:     config.GetEnv("SQLITE_ARCHIVE", "true") == "true",
		ConsumerGroup:      config.GetEnv("CONSUMER_GROUP", "shapeengine"),
		ConsumerName:       config.GetEnv("CONSUMER_NAME", "worker-1"),
		EnabledTFs:         config.ParseTFs(config.GetEnv("ENABLED_TFS", "60,300")),
		SnapshotIntervalS:  config.GetEnvInt("SNAPSHOT_INTERVAL_SEC", 30),
		SubscribeTokenKeys: config.ParseTokenKeys(config.GetEnv("SUBSCRIBE_TOKENS", "")),
		SnapshotKey:        config.GetEnv("SNAPSHOT_KEY", "shape:snapshot:engine"),
		ConfigChannel:      config.GetEnv("CONFIG_CHANNEL", "config:shape"),
		HTTPAddr:           config.GetEnv("SHAPEENGINE_HTTP_ADDR", ":9096"),
		PELIntervalS:       config.GetEnvInt("PEL_RECLAIM_INTERVAL_SEC", 30),
		PELMinIdleMs:       pelMinIdle,
		BackfillDepth:      config.GetEnvInt("BACKFILL_DEPTH", 0),
		BreakerFailures:    config.GetEnvInt("REDIS_CB_FAILURES", 5),
		BreakerReset:       time.Duration(config.GetEnvInt("REDIS_CB_RESET_SEC", 10)) * time.Second,
		BufferMax:          config.GetEnvInt("REDIS_BUFFER_MAX", 10000),
		OverridesPath:      config.GetEnv("SHAPE_OVERRIDES_PATH", ""),
		WebhookURL:         config.GetEnv("ALERT_WEBHOOK_URL", ""),
		TelegramToken:      config.GetEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:     config.GetEnv("TELEGRAM_CHAT_ID", ""),
		AlertRatePerMin:    config.GetEnvInt("ALERT_RATE_PER_MIN", 0),
		AlertBurst:         config.GetEnvInt("ALERT_BURST", 5),
		AnalyzeRPS:         float64(config.GetEnvInt("ANALYZE_RATE_PER_SEC", 5)),
		AnalyzeBurst:       config.GetEnvInt("ANALYZE_BURST", 10),
		ControlSecret:      config.GetEnv("SHAPEENGINE_JWT_SECRET", ""),
		LogLevel:           logger.ParseLevel(config.GetEnv("LOG_LEVEL", "info")),
	}
	if len(cfg.EnabledTFs) == 0 {
		return cfg, fmt.Errorf("shapeengine: ENABLED_TFS has no valid timeframe")
	}

	field, err := model.ParseField(config.GetEnv("SHAPE_FIELD", "high"))
	if err != nil {
		return cfg, err
	}
	cfg.Field = field

	if v := config.GetEnv("ALERT_SESSION", ""); v != "" {
		sess, err := markethours.Parse(v)
		if err != nil {
			return cfg, err
		}
		cfg.AlertSession = &sess
	}

	if err := cfg.loadShape(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadShape reads the base detector config and the override file. Reload
// calls it again to pick up edits.
func (cfg *Config) loadShape() error {
	base, err := config.ShapeFromEnv(shape.DefaultConfig())
	if err != nil {
		return err
	}
	ov, err := config.LoadOverrides(cfg.OverridesPath)
	if err != nil {
		return err
	}
	if err := ov.Validate(base); err != nil {
		return err
	}
	cfg.Shape = base
	cfg.Overrides = ov
	return nil
}

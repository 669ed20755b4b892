package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Room being monitored
	RoomID       int64
	RoomTimezone string

	// Matching rules
	TargetGiftNames []string
	TargetGiftIDs   []int64
	GiftThreshold   int

	// Thank-you behavior
	DailyThankLimit int
	ThankTemplate   string
	GuardTemplate   string
	ThankGuard      bool
	AnonymousName   string

	// Dispatcher
	MinSendInterval time.Duration
	DispatchPoll    time.Duration
	SendTimeout     time.Duration

	// Periodic announcements
	AnnounceEnabled  bool
	AnnounceInterval time.Duration
	AnnounceMessages []string

	// Chat send collaborator
	ChatAPIURL  string
	BotSessData string
	BotCSRF     string
	BotBuvid    string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (event dedup + query API rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Optional SQS event source
	SQSRegion   string
	SQSQueueURL string
}

const (
	DefaultThankTemplate = "感谢 {uname} 赠送的 {gift_name} x{num}！"
	DefaultGuardTemplate = "感谢 {uname} 开通 {guard_name}！"
)

// Load reads configuration from environment variables with sensible defaults.
// Validation failures are returned as errors and must abort startup.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		RoomTimezone:  "Asia/Shanghai",
		GiftThreshold: 50,

		DailyThankLimit: 1,
		ThankTemplate:   DefaultThankTemplate,
		GuardTemplate:   DefaultGuardTemplate,
		AnonymousName:   "神秘人",

		MinSendInterval: 30 * time.Second,
		DispatchPoll:    3 * time.Second,
		SendTimeout:     10 * time.Second,

		AnnounceInterval: 5 * time.Minute,

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "giftwatch",
		DBName:    "giftwatch",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if v := os.Getenv("ROOM_ID"); v != "" {
		cfg.RoomID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ROOM_ID: %w", err)
		}
	}
	if tz := os.Getenv("ROOM_TIMEZONE"); tz != "" {
		cfg.RoomTimezone = tz
	}

	cfg.TargetGiftNames = splitList(os.Getenv("TARGET_GIFT_NAMES"))
	cfg.TargetGiftIDs, err = splitInt64List(os.Getenv("TARGET_GIFT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid TARGET_GIFT_IDS: %w", err)
	}
	if cfg.GiftThreshold, err = intEnv("GIFT_THRESHOLD", cfg.GiftThreshold); err != nil {
		return nil, err
	}
	if cfg.DailyThankLimit, err = intEnv("DAILY_THANK_LIMIT", cfg.DailyThankLimit); err != nil {
		return nil, err
	}

	if t := os.Getenv("THANK_TEMPLATE"); t != "" {
		cfg.ThankTemplate = t
	}
	if t := os.Getenv("GUARD_TEMPLATE"); t != "" {
		cfg.GuardTemplate = t
	}
	cfg.ThankGuard = boolEnv("THANK_GUARD", false)
	if n := os.Getenv("ANONYMOUS_NAME"); n != "" {
		cfg.AnonymousName = n
	}

	if cfg.MinSendInterval, err = secondsEnv("MIN_SEND_INTERVAL_SEC", cfg.MinSendInterval); err != nil {
		return nil, err
	}
	if cfg.DispatchPoll, err = secondsEnv("DISPATCH_POLL_SEC", cfg.DispatchPoll); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = secondsEnv("SEND_TIMEOUT_SEC", cfg.SendTimeout); err != nil {
		return nil, err
	}

	cfg.AnnounceEnabled = boolEnv("ANNOUNCE_ENABLED", false)
	if cfg.AnnounceInterval, err = secondsEnv("ANNOUNCE_INTERVAL_SEC", cfg.AnnounceInterval); err != nil {
		return nil, err
	}
	cfg.AnnounceMessages = splitLines(os.Getenv("ANNOUNCE_MESSAGES"))

	cfg.ChatAPIURL = os.Getenv("CHAT_API_URL")
	cfg.BotSessData = os.Getenv("BOT_SESSDATA")
	cfg.BotCSRF = os.Getenv("BOT_CSRF")
	cfg.BotBuvid = os.Getenv("BOT_BUVID")

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	}
	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that must not reach a running system.
func (c *Config) Validate() error {
	if c.RoomID <= 0 {
		return fmt.Errorf("ROOM_ID must be a positive room identifier, got %d", c.RoomID)
	}
	if c.GiftThreshold <= 0 {
		return fmt.Errorf("GIFT_THRESHOLD must be positive, got %d", c.GiftThreshold)
	}
	if c.DailyThankLimit < 0 {
		return fmt.Errorf("DAILY_THANK_LIMIT must not be negative, got %d", c.DailyThankLimit)
	}
	if c.MinSendInterval < time.Second {
		return fmt.Errorf("MIN_SEND_INTERVAL_SEC must be at least 1 second, got %s", c.MinSendInterval)
	}
	if c.DispatchPoll <= 0 {
		return fmt.Errorf("DISPATCH_POLL_SEC must be positive, got %s", c.DispatchPoll)
	}
	if _, err := time.LoadLocation(c.RoomTimezone); err != nil {
		return fmt.Errorf("invalid ROOM_TIMEZONE %q: %w", c.RoomTimezone, err)
	}
	if c.AnnounceEnabled && len(c.AnnounceMessages) == 0 {
		return fmt.Errorf("ANNOUNCE_ENABLED requires at least one ANNOUNCE_MESSAGES entry")
	}
	return nil
}

// HasRules reports whether at least one matching-rule family is configured.
func (c *Config) HasRules() bool {
	return len(c.TargetGiftNames) > 0 || len(c.TargetGiftIDs) > 0
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}

func secondsEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

// splitList splits a comma-separated list. Full-width commas are accepted
// because gift names are routinely copy-pasted from Chinese sources.
func splitList(s string) []string {
	s = strings.ReplaceAll(s, "，", ",")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitInt64List(s string) ([]int64, error) {
	var out []int64
	for _, part := range splitList(s) {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

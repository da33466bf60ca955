package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"github.com/uma-arai/sbcntr-scheduler/internal/common/database"
	"github.com/uma-arai/sbcntr-scheduler/internal/schedule"
)

type Config struct {
	Env      string
	LogLevel string
	DB       database.Config
	SFN      struct {
		TaskToken string
	}
	EnableTracing bool
	Schedule      ScheduleConfig
	Redis         RedisConfig
	HTTP          struct {
		Addr string
	}
	Presence struct {
		TTL           time.Duration
		SweepInterval time.Duration
	}
}

// ScheduleConfig はカレンダーと予約登録の設定です
type ScheduleConfig struct {
	Location      *time.Location
	GridOpen      string
	GridClose     string
	SlotMinutes   int
	WeekStart     time.Weekday
	CommitTimeout time.Duration
	CacheTTL      time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	CacheDB  int
	QueueDB  int
}

// env は環境変数との対応です
type env struct {
	Env                   string        `mapstructure:"ENV"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	DBHost                string        `mapstructure:"DB_HOST"`
	DBPort                int           `mapstructure:"DB_PORT"`
	DBUserName            string        `mapstructure:"DB_USERNAME"`
	DBPassword            string        `mapstructure:"DB_PASSWORD"`
	DBName                string        `mapstructure:"DB_NAME"`
	DBSSLMode             string        `mapstructure:"DB_SSL_MODE"`
	TimeZone              string        `mapstructure:"TIME_ZONE"`
	GridOpen              string        `mapstructure:"GRID_OPEN"`
	GridClose             string        `mapstructure:"GRID_CLOSE"`
	SlotMinutes           int           `mapstructure:"SLOT_MINUTES"`
	WeekStart             string        `mapstructure:"WEEK_START"`
	CommitTimeout         time.Duration `mapstructure:"COMMIT_TIMEOUT"`
	CacheTTL              time.Duration `mapstructure:"CACHE_TTL"`
	RedisAddr             string        `mapstructure:"REDIS_ADDR"`
	RedisPassword         string        `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB          int           `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB          int           `mapstructure:"REDIS_QUEUE_DB"`
	HTTPAddr              string        `mapstructure:"HTTP_ADDR"`
	PresenceTTL           time.Duration `mapstructure:"PRESENCE_TTL"`
	PresenceSweepInterval time.Duration `mapstructure:"PRESENCE_SWEEP_INTERVAL"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENV", "LOCAL")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USERNAME", "sbcntrapp")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "sbcntrapp")
	v.SetDefault("DB_SSL_MODE", "")
	v.SetDefault("TIME_ZONE", "Asia/Tokyo")
	v.SetDefault("GRID_OPEN", "09:00")
	v.SetDefault("GRID_CLOSE", "18:00")
	v.SetDefault("SLOT_MINUTES", 30)
	v.SetDefault("WEEK_START", "sunday")
	v.SetDefault("COMMIT_TIMEOUT", "5s")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_CACHE_DB", 0)
	v.SetDefault("REDIS_QUEUE_DB", 1)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("PRESENCE_TTL", "1m")
	v.SetDefault("PRESENCE_SWEEP_INTERVAL", "15s")
	return v
}

// LoadConfig は設定を読み込みます
// バッチ以外から呼び出す場合、taskTokenは空で構いません
func LoadConfig(taskToken string) (*Config, error) {
	var e env
	if err := newViper().Unmarshal(&e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loc, err := time.LoadLocation(e.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", e.TimeZone, err)
	}
	weekStart, err := parseWeekday(e.WeekStart)
	if err != nil {
		return nil, err
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"COMMIT_TIMEOUT", e.CommitTimeout},
		{"CACHE_TTL", e.CacheTTL},
		{"PRESENCE_TTL", e.PresenceTTL},
		{"PRESENCE_SWEEP_INTERVAL", e.PresenceSweepInterval},
	} {
		if d.value <= 0 {
			return nil, fmt.Errorf("%s must be positive: %v", d.key, d.value)
		}
	}

	cfg := &Config{
		Env:      e.Env,
		LogLevel: e.LogLevel,
		DB: database.Config{
			Host:     e.DBHost,
			Port:     e.DBPort,
			UserName: e.DBUserName,
			Password: e.DBPassword,
			DBName:   e.DBName,
			SSLMode:  e.DBSSLMode,
		},
		Schedule: ScheduleConfig{
			Location:      loc,
			GridOpen:      e.GridOpen,
			GridClose:     e.GridClose,
			SlotMinutes:   e.SlotMinutes,
			WeekStart:     weekStart,
			CommitTimeout: e.CommitTimeout,
			CacheTTL:      e.CacheTTL,
		},
		Redis: RedisConfig{
			Addr:     e.RedisAddr,
			Password: e.RedisPassword,
			CacheDB:  e.RedisCacheDB,
			QueueDB:  e.RedisQueueDB,
		},
	}
	cfg.SFN.TaskToken = taskToken
	cfg.HTTP.Addr = e.HTTPAddr
	cfg.Presence.TTL = e.PresenceTTL
	cfg.Presence.SweepInterval = e.PresenceSweepInterval

	if _, err := cfg.Grid(); err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := os.Getenv("SBCNTR_ENABLE_TRACING")
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}

	if cfg.IsLocal() {
		log.Printf("Config loaded for LOCAL environment (time zone %s)", loc)
	}
	return cfg, nil
}

// IsLocal はローカル環境かどうかを返します
func (c *Config) IsLocal() bool {
	return c.Env == "LOCAL"
}

// Grid は設定された営業時間のコマ一覧を返します
func (c *Config) Grid() (schedule.Grid, error) {
	return schedule.NewGrid(c.Schedule.GridOpen, c.Schedule.GridClose, c.Schedule.SlotMinutes)
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "sunday", "sun", "":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("unsupported WEEK_START %q", s)
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env  string
	Port int

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Gate     GateConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GateConfig drives the daily mode machine, the per-room slot machine and
// the scoring rules applied to scans.
type GateConfig struct {
	Timezone string

	// Minutes from midnight, parsed from HH:MM.
	OpenFrom  int
	OpenUntil int

	EarlyAccessLead  time.Duration
	PostClassWindow  time.Duration
	TeacherGrace     time.Duration
	LateThreshold    time.Duration
	BreakWarningLead time.Duration
	ReVerifyWindow   time.Duration
	ReVerifyGrace    time.Duration
	ModeTickInterval time.Duration
	SlotTickInterval time.Duration
	SweepInterval    time.Duration
	DeviceOnlineTTL  time.Duration
	ScheduleCacheTTL time.Duration
	PointsPresent    int
	PointsLate       int
	OrganizationID   string
	RoomAliases      map[string]string
	ModeHistoryLimit int
}

// NotifyConfig configures the outbound direct-message sender.
type NotifyConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	Workers    int
	MaxRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	openFrom, err := parseClock(v.GetString("GATE_OPEN_FROM"))
	if err != nil {
		return nil, fmt.Errorf("GATE_OPEN_FROM: %w", err)
	}
	openUntil, err := parseClock(v.GetString("GATE_OPEN_UNTIL"))
	if err != nil {
		return nil, fmt.Errorf("GATE_OPEN_UNTIL: %w", err)
	}

	cfg.Gate = GateConfig{
		Timezone:         v.GetString("GATE_TIMEZONE"),
		OpenFrom:         openFrom,
		OpenUntil:        openUntil,
		EarlyAccessLead:  parseDuration(v.GetString("GATE_EARLY_ACCESS_LEAD"), 30*time.Minute),
		PostClassWindow:  parseDuration(v.GetString("GATE_POST_CLASS_WINDOW"), 30*time.Minute),
		TeacherGrace:     parseDuration(v.GetString("GATE_TEACHER_GRACE"), 15*time.Minute),
		LateThreshold:    parseDuration(v.GetString("GATE_LATE_THRESHOLD"), 5*time.Minute),
		BreakWarningLead: parseDuration(v.GetString("GATE_BREAK_WARNING_LEAD"), 5*time.Minute),
		ReVerifyWindow:   parseDuration(v.GetString("GATE_REVERIFY_WINDOW"), 10*time.Minute),
		ReVerifyGrace:    parseDuration(v.GetString("GATE_REVERIFY_GRACE"), 5*time.Minute),
		ModeTickInterval: parseDuration(v.GetString("GATE_MODE_TICK"), time.Minute),
		SlotTickInterval: parseDuration(v.GetString("GATE_SLOT_TICK"), time.Minute),
		SweepInterval:    parseDuration(v.GetString("GATE_SWEEP_INTERVAL"), 5*time.Minute),
		DeviceOnlineTTL:  parseDuration(v.GetString("GATE_DEVICE_ONLINE_TTL"), 2*time.Minute),
		ScheduleCacheTTL: parseDuration(v.GetString("GATE_SCHEDULE_CACHE_TTL"), time.Minute),
		PointsPresent:    v.GetInt("GATE_POINTS_PRESENT"),
		PointsLate:       v.GetInt("GATE_POINTS_LATE"),
		OrganizationID:   v.GetString("GATE_ORGANIZATION_ID"),
		RoomAliases:      parseAliases(v.GetString("GATE_ROOM_ALIASES")),
		ModeHistoryLimit: v.GetInt("GATE_MODE_HISTORY_LIMIT"),
	}

	cfg.Notify = NotifyConfig{
		Endpoint:   v.GetString("NOTIFY_ENDPOINT"),
		APIKey:     v.GetString("NOTIFY_API_KEY"),
		Timeout:    parseDuration(v.GetString("NOTIFY_TIMEOUT"), 5*time.Second),
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8090)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gate_sma")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GATE_TIMEZONE", "Asia/Jakarta")
	v.SetDefault("GATE_OPEN_FROM", "06:00")
	v.SetDefault("GATE_OPEN_UNTIL", "17:00")
	v.SetDefault("GATE_EARLY_ACCESS_LEAD", "30m")
	v.SetDefault("GATE_POST_CLASS_WINDOW", "30m")
	v.SetDefault("GATE_TEACHER_GRACE", "15m")
	v.SetDefault("GATE_LATE_THRESHOLD", "5m")
	v.SetDefault("GATE_BREAK_WARNING_LEAD", "5m")
	v.SetDefault("GATE_REVERIFY_WINDOW", "10m")
	v.SetDefault("GATE_REVERIFY_GRACE", "5m")
	v.SetDefault("GATE_MODE_TICK", "1m")
	v.SetDefault("GATE_SLOT_TICK", "1m")
	v.SetDefault("GATE_SWEEP_INTERVAL", "5m")
	v.SetDefault("GATE_DEVICE_ONLINE_TTL", "2m")
	v.SetDefault("GATE_SCHEDULE_CACHE_TTL", "1m")
	v.SetDefault("GATE_POINTS_PRESENT", 10)
	v.SetDefault("GATE_POINTS_LATE", 5)
	v.SetDefault("GATE_ORGANIZATION_ID", "")
	v.SetDefault("GATE_ROOM_ALIASES", "")
	v.SetDefault("GATE_MODE_HISTORY_LIMIT", 200)

	v.SetDefault("NOTIFY_ENDPOINT", "")
	v.SetDefault("NOTIFY_API_KEY", "")
	v.SetDefault("NOTIFY_TIMEOUT", "5s")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// parseClock converts HH:MM into minutes from midnight.
func parseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour*60 + minute, nil
}

// parseAliases parses "ALIAS=room,ALIAS2=room2" into a lookup map.
func parseAliases(raw string) map[string]string {
	aliases := map[string]string{}
	for _, pair := range splitAndTrim(raw) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		alias := strings.ToUpper(strings.TrimSpace(kv[0]))
		room := strings.TrimSpace(kv[1])
		if alias != "" && room != "" {
			aliases[alias] = room
		}
	}
	return aliases
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

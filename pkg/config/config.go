package config

import (
	"errors"
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
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	School        SchoolConfig
	Consent       ConsentConfig
	Homework      HomeworkConfig
	Notifications NotificationsConfig
	Storage       StorageConfig
	Bootstrap     BootstrapConfig
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

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchoolConfig carries institution-wide settings that used to live in the
// legacy School Settings single record.
type SchoolConfig struct {
	Name             string
	EducationManager string
	PortalBaseURL    string
}

// ConsentConfig tunes the consent workflow.
type ConsentConfig struct {
	ExpiryWindow    time.Duration
	SweepInterval   time.Duration
	SummaryCacheTTL time.Duration
}

// HomeworkConfig tunes the homework submission workflow.
type HomeworkConfig struct {
	StatsCacheTTL time.Duration
}

// NotificationsConfig configures outbound email/SMS delivery.
type NotificationsConfig struct {
	Enabled         bool
	SendgridKey     string
	FromName        string
	FromEmail       string
	SMSGatewayURL   string
	SMSGatewayToken string
	QueueWorkers    int
	QueueRetries    int
	RetryDelay      time.Duration
}

// StorageConfig configures on-disk storage for submission attachments.
type StorageConfig struct {
	Dir       string
	URLSecret string
	URLTTL    time.Duration
}

// BootstrapConfig gates the one-time data seed executed on startup.
type BootstrapConfig struct {
	Enabled      bool
	AcademicYear string
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
	cfg.APIPrefix = v.GetString("API_PREFIX")

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

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.School = SchoolConfig{
		Name:             v.GetString("SCHOOL_NAME"),
		EducationManager: v.GetString("SCHOOL_EDUCATION_MANAGER"),
		PortalBaseURL:    v.GetString("PORTAL_BASE_URL"),
	}

	cfg.Consent = ConsentConfig{
		ExpiryWindow:    parseDuration(v.GetString("CONSENT_EXPIRY_WINDOW"), 7*24*time.Hour),
		SweepInterval:   parseDuration(v.GetString("CONSENT_SWEEP_INTERVAL"), 24*time.Hour),
		SummaryCacheTTL: parseDuration(v.GetString("CONSENT_SUMMARY_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Homework = HomeworkConfig{
		StatsCacheTTL: parseDuration(v.GetString("HOMEWORK_STATS_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:         v.GetBool("NOTIFICATIONS_ENABLED"),
		SendgridKey:     v.GetString("SENDGRID_API_KEY"),
		FromName:        v.GetString("NOTIFICATIONS_FROM_NAME"),
		FromEmail:       v.GetString("NOTIFICATIONS_FROM_EMAIL"),
		SMSGatewayURL:   v.GetString("SMS_GATEWAY_URL"),
		SMSGatewayToken: v.GetString("SMS_GATEWAY_TOKEN"),
		QueueWorkers:    v.GetInt("NOTIFICATIONS_QUEUE_WORKERS"),
		QueueRetries:    v.GetInt("NOTIFICATIONS_QUEUE_RETRIES"),
		RetryDelay:      parseDuration(v.GetString("NOTIFICATIONS_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Storage = StorageConfig{
		Dir:       v.GetString("STORAGE_DIR"),
		URLSecret: v.GetString("ATTACHMENT_URL_SECRET"),
		URLTTL:    parseDuration(v.GetString("ATTACHMENT_URL_TTL"), 24*time.Hour),
	}

	cfg.Bootstrap = BootstrapConfig{
		Enabled:      v.GetBool("BOOTSTRAP_ENABLED"),
		AcademicYear: v.GetString("BOOTSTRAP_ACADEMIC_YEAR"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "portal_sma")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "sma-portal-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHOOL_NAME", "SMA")
	v.SetDefault("SCHOOL_EDUCATION_MANAGER", "")
	v.SetDefault("PORTAL_BASE_URL", "http://localhost:3000")

	v.SetDefault("CONSENT_EXPIRY_WINDOW", "168h")
	v.SetDefault("CONSENT_SWEEP_INTERVAL", "24h")
	v.SetDefault("CONSENT_SUMMARY_CACHE_TTL", "5m")
	v.SetDefault("HOMEWORK_STATS_CACHE_TTL", "5m")

	v.SetDefault("NOTIFICATIONS_ENABLED", false)
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("NOTIFICATIONS_FROM_NAME", "SMA Portal")
	v.SetDefault("NOTIFICATIONS_FROM_EMAIL", "noreply@sma.sch.id")
	v.SetDefault("SMS_GATEWAY_URL", "")
	v.SetDefault("SMS_GATEWAY_TOKEN", "")
	v.SetDefault("NOTIFICATIONS_QUEUE_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_QUEUE_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_RETRY_DELAY", "5s")

	v.SetDefault("STORAGE_DIR", "./data/attachments")
	v.SetDefault("ATTACHMENT_URL_SECRET", "")
	v.SetDefault("ATTACHMENT_URL_TTL", "24h")

	v.SetDefault("BOOTSTRAP_ENABLED", false)
	v.SetDefault("BOOTSTRAP_ACADEMIC_YEAR", "2024-2025")
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

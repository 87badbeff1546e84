package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ArchiveConfig drives the audit-archive exporter. Audit rows older than
// Retention are shipped to the bucket as JSON lines, then pruned.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	Retention time.Duration
}

// SecurityConfig carries the policy constants of the account-security
// core. Every limit the workflows enforce is configured here rather
// than hard-coded.
type SecurityConfig struct {
	JWTAccessSecret         string
	JWTAccessTTL            time.Duration
	SessionTTL              time.Duration
	SessionRetention        time.Duration
	MaxSessions             int
	MaxVerificationAttempts int
	VerificationTokenTTL    time.Duration
	ResetTokenTTL           time.Duration
	AppealWindowDays        int
	MaxFailedLogins         int
	LockoutDuration         time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Archive          ArchiveConfig
	Security         SecurityConfig
	SMTP             SMTPConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("IDGUARD")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("archive.bucket", "idguard-audit-archive")
	v.SetDefault("archive.usessl", false)
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.retention", "2160h") // 90 days

	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.sessionttl", "720h") // 30 days
	v.SetDefault("security.sessionretention", "720h")
	v.SetDefault("security.maxsessions", 10)
	v.SetDefault("security.maxverificationattempts", 5)
	v.SetDefault("security.verificationtokenttl", "24h")
	v.SetDefault("security.resettokenttl", "1h")
	v.SetDefault("security.appealwindowdays", 7)
	v.SetDefault("security.maxfailedlogins", 5)
	v.SetDefault("security.lockoutduration", "15m")

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@idguard.local")
}

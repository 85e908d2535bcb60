package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	OTP       OTPSettings       `mapstructure:"otp"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Admin     AdminSettings     `mapstructure:"admin"`
	Cookies   CookieSettings    `mapstructure:"cookies"`
	Cleanup   CleanupSettings   `mapstructure:"cleanup"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	MetricsPort int      `mapstructure:"metrics_port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection and key prefixes.
type RedisSettings struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	DB                 int    `mapstructure:"db"`
	Password           string `mapstructure:"password"`
	TLSEnabled         bool   `mapstructure:"tls_enabled"`
	LoginGuardPrefix   string `mapstructure:"login_guard_prefix"`
	PendingLoginPrefix string `mapstructure:"pending_login_prefix"`
}

// KafkaSettings configures the security event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// JWTSettings configures access token signing and refresh token lifetime.
type JWTSettings struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// OTPSettings configures the one-time code lifecycle and its failure guard.
type OTPSettings struct {
	Digits         int           `mapstructure:"digits"`
	TTL            time.Duration `mapstructure:"ttl"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptWindow  time.Duration `mapstructure:"attempt_window"`
}

// RateLimitSettings configures the pre-authentication login guard.
type RateLimitSettings struct {
	LoginWindow      time.Duration `mapstructure:"login_window"`
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// AdminSettings carries the reserved super-admin identity.
type AdminSettings struct {
	SuperAdminEmail string `mapstructure:"super_admin_email"`
}

// CookieSettings configures the auth cookies handed to browsers.
type CookieSettings struct {
	Domain      string `mapstructure:"domain"`
	Secure      bool   `mapstructure:"secure"`
	SameSite    string `mapstructure:"same_site"`
	RefreshPath string `mapstructure:"refresh_path"`
}

// CleanupSettings configures the background token sweeper.
type CleanupSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CRM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.metrics_port",
		"app.cors_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.login_guard_prefix",
		"redis.pending_login_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.secret",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"otp.digits",
		"otp.ttl",
		"otp.resend_cooldown",
		"otp.max_attempts",
		"otp.attempt_window",
		"rate_limit.login_window",
		"rate_limit.login_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"admin.super_admin_email",
		"cookies.domain",
		"cookies.secure",
		"cookies.same_site",
		"cookies.refresh_path",
		"cleanup.interval",
	}); err != nil {
		return nil, err
	}

	// Legacy deployments export the reserved account as SUPER_ADMIN_EMAIL.
	if err := v.BindEnv("admin.super_admin_email", "CRM_ADMIN_SUPER_ADMIN_EMAIL", "ADMIN_SUPER_ADMIN_EMAIL", "SUPER_ADMIN_EMAIL"); err != nil {
		return nil, fmt.Errorf("bind env for admin.super_admin_email: %w", err)
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret must be set")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crm-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.metrics_port", 9090)
	v.SetDefault("app.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "crm")
	v.SetDefault("postgres.password", "crm_password")
	v.SetDefault("postgres.database", "crm")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.login_guard_prefix", "crm:login_guard")
	v.SetDefault("redis.pending_login_prefix", "crm:pending_login")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "crm")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("otp.digits", 6)
	v.SetDefault("otp.ttl", "10m")
	v.SetDefault("otp.resend_cooldown", "60s")
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.attempt_window", "30m")

	v.SetDefault("rate_limit.login_window", "15m")
	v.SetDefault("rate_limit.login_max_attempts", 15)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("admin.super_admin_email", "support@techsupport4.com")

	v.SetDefault("cookies.domain", "")
	v.SetDefault("cookies.secure", true)
	v.SetDefault("cookies.same_site", "lax")
	v.SetDefault("cookies.refresh_path", "/api/auth/refresh")

	v.SetDefault("cleanup.interval", "6h")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "CRM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema       string        `mapstructure:"DB_SCHEMA"`
	DefaultBranch  int           `mapstructure:"DEFAULT_BRANCH"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	MinioEndpoint  string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string        `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool          `mapstructure:"MINIO_USE_SSL"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	JWTExpiresIn   time.Duration `mapstructure:"JWT_EXPIRES_IN"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	ToastTTL       time.Duration `mapstructure:"NOTIFICATION_TTL"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"DEFAULT_BRANCH", "REDIS_URL",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"JWT_SECRET", "JWT_EXPIRES_IN", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"NOTIFICATION_TTL", "MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "hmis")
	v.SetDefault("DEFAULT_BRANCH", 18)
	v.SetDefault("MINIO_BUCKET", "hmis-documents")
	v.SetDefault("JWT_EXPIRES_IN", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("NOTIFICATION_TTL", "5s")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind explicitly so Unmarshal sees env-only keys.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development, unauthenticated requests run as admin.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UseMinio reports whether documents go to MinIO instead of memory.
func (c *Config) UseMinio() bool {
	return c.MinioEndpoint != ""
}

// UseRedis reports whether sequences and token revocation go to Redis.
func (c *Config) UseRedis() bool {
	return c.RedisURL != ""
}

// Validate checks settings that Load cannot default.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.UseMinio() && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	if c.JWTExpiresIn <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive")
	}
	if c.ToastTTL <= 0 {
		return fmt.Errorf("NOTIFICATION_TTL must be positive")
	}
	return nil
}

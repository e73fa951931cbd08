package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"": true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Outline        OutlineConfig
	Telegram       TelegramConfig
	Sweep          SweepConfig
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

// OutlineConfig is the static fallback server used to bootstrap the registry
// when no vpn_servers rows exist yet.
type OutlineConfig struct {
	APIURL     string
	CertSHA256 string
}

type TelegramConfig struct {
	BotToken string
	// Primary channel whose membership grants access
	ChannelID string
	// Secondary (mentor) channel; membership in either channel entitles the user
	MentorChannelID string
	APIBaseURL      string
}

type SweepConfig struct {
	MetricsInterval   time.Duration
	ReconcileInterval time.Duration
}

func Load() *Config {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] No .env file loaded: %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8085"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "vpn_user"),
			Password: getEnv("DB_PASSWORD", "vpn_pass"),
			DBName:   getEnv("DB_NAME", "vpn_access"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Outline: OutlineConfig{
			APIURL:     getEnv("OUTLINE_API_URL", ""),
			CertSHA256: getEnv("OUTLINE_CERT_SHA256", ""),
		},
		Telegram: TelegramConfig{
			BotToken:        getEnv("BOT_TOKEN", ""),
			ChannelID:       getEnv("CHANNEL_ID", ""),
			MentorChannelID: getEnv("MENTOR_CHANNEL_ID", ""),
			APIBaseURL:      getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		Sweep: SweepConfig{
			MetricsInterval:   getEnvDuration("METRICS_SWEEP_INTERVAL", 5*time.Minute),
			ReconcileInterval: getEnvDuration("RECONCILE_SWEEP_INTERVAL", 30*time.Minute),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// 日志脱敏: 不记录密钥等敏感配置
	log.Printf("[config] VPN access service loaded: port=%s db=%s/%s metrics_interval=%s reconcile_interval=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName,
		cfg.Sweep.MetricsInterval, cfg.Sweep.ReconcileInterval)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN must be set")
	}
	if c.Telegram.ChannelID == "" {
		return fmt.Errorf("CHANNEL_ID must be set")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Env            string
	LogLevel       string
	Debug          bool
	TrustedProxies []string
	AllowedOrigins []string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	JWTSecret        string
	JWTRefreshSecret string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	SkipAuth bool // если true – отключает проверку JWT (для разработки)

	// Реферальная программа
	PayoutPerReferral float64       // фиксированное вознаграждение за реферала
	PayoutMaturity    time.Duration // выдержка между оплатой подписки и допуском к выплате
	SweepInterval     time.Duration // период фонового обхода зрелых рефералов

	// Внешний платёжный провайдер
	PayoutProviderURL    string
	PayoutProviderAPIKey string

	// Вебхуки биллинга
	BillingWebhookSecret string

	// Telegram-алерты для оператора (manual review)
	TelegramBotToken  string
	TelegramOpsChatID int64

	// SMTP для почтовых уведомлений
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	OpsEmail     string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Debug:          getEnvAsBool("DEBUG", true),
		TrustedProxies: []string{},
		AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "postgres"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:        getEnv("JWT_ACCESS_SECRET", "default-access-secret"),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", "default-refresh-secret"),
		JWTAccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		JWTRefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 30*24*time.Hour),

		SkipAuth: getEnvAsBool("SKIP_AUTH", false),

		PayoutPerReferral: getEnvAsFloat("PAYOUT_PER_REFERRAL", 5.00),
		PayoutMaturity:    time.Duration(getEnvAsInt("PAYOUT_MATURITY_DAYS", 14)) * 24 * time.Hour,
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 24*time.Hour),

		PayoutProviderURL:    getEnv("PAYOUT_PROVIDER_URL", ""),
		PayoutProviderAPIKey: getEnv("PAYOUT_PROVIDER_API_KEY", ""),

		BillingWebhookSecret: getEnv("BILLING_WEBHOOK_SECRET", ""),

		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramOpsChatID: getEnvAsInt64("TELEGRAM_OPS_CHAT_ID", 0),

		// SMTP
		SMTPHost:     getEnv("SMTP_HOST", "smtp.yandex.ru"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		EmailFrom:    getEnv("EMAIL_FROM", ""),
		OpsEmail:     getEnv("OPS_EMAIL", ""),
	}

	if proxies := getEnv("TRUSTED_PROXIES", ""); proxies != "" {
		cfg.TrustedProxies = strings.Split(proxies, ",")
	}

	log.Printf("📋 Конфигурация загружена: порт=%s, режим=%s, БД=%s, SkipAuth=%v, ProviderSet=%v",
		cfg.Port, cfg.Env, cfg.DBName, cfg.SkipAuth, cfg.PayoutProviderURL != "")
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	strVal := getEnv(key, "")
	if val, err := strconv.ParseBool(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	strVal := getEnv(key, "")
	if val, err := strconv.Atoi(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	strVal := getEnv(key, "")
	if val, err := strconv.ParseInt(strVal, 10, 64); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	strVal := getEnv(key, "")
	if val, err := strconv.ParseFloat(strVal, 64); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	strVal := getEnv(key, "")
	if val, err := time.ParseDuration(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	val := getEnv(key, "")
	if val == "" {
		return defaultValue
	}
	parts := strings.Split(val, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

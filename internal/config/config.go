// Пакет config — загрузка и валидация конфигурации Identity Module
// из переменных окружения (с необязательной предзагрузкой .env файла).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bigkaa/goartstore/identity-module/internal/keycloak"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Identity Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8010-8019)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.kryukov.lan)
	KeycloakURL string
	// Realm администратора (обычно master)
	KeycloakAdminRealm string
	// Учётные данные администратора
	KeycloakAdminUsername string
	KeycloakAdminPassword string
	// Клиент для admin token (обычно admin-cli)
	KeycloakAdminClientID string
	// Секрет admin-клиента (опционально, для service account)
	KeycloakAdminClientSecret string
	// Realm пользователей приложения
	KeycloakUserRealm string
	// Конфиденциальный клиент для входа и выхода пользователей
	KeycloakUserClientID     string
	KeycloakUserClientSecret string
	// Таймаут одного вызова Keycloak
	KeycloakTimeout time.Duration
	// Путь к CA-сертификату Keycloak (опционально)
	KeycloakCACertPath string

	// --- JWT (авторизация HTTP API) ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое расхождение часов
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Realm-роль, дающая доступ к административным endpoints
	AdminRole string

	// --- Ограничение частоты входа ---

	// Количество попыток входа за окно с одного IP
	SignInRateLimit int
	// Окно ограничения
	SignInRateWindow time.Duration
	// Допустимый всплеск
	SignInRateBurst int
	// Брать IP клиента из X-Forwarded-For/X-Real-IP (только за доверенным прокси)
	TrustProxyHeaders bool

	// --- Kafka ---

	// Брокеры Kafka (пусто — события не публикуются)
	KafkaBrokers []string
	// Топик событий
	KafkaTopic string

	// --- Мониторинг зависимостей ---

	// Группа topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если существует файл IM_ENV_FILE (по умолчанию .env), его значения
// дополняют окружение, не переопределяя уже заданные переменные.
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvDefault("IM_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// IM_PORT — порт HTTP-сервера (по умолчанию 8010)
	cfg.Port, err = getEnvInt("IM_PORT", 8010)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}
	if cfg.Port < 8010 || cfg.Port > 8019 {
		return nil, fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 8010-8019", cfg.Port)
	}

	// IM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	// IM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Keycloak ---

	// IM_KEYCLOAK_URL — обязательный
	cfg.KeycloakURL, err = getEnvRequired("IM_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// IM_KEYCLOAK_ADMIN_REALM — realm администратора (по умолчанию master)
	cfg.KeycloakAdminRealm = getEnvDefault("IM_KEYCLOAK_ADMIN_REALM", "master")

	// IM_KEYCLOAK_ADMIN_CLIENT_ID — клиент admin token (по умолчанию admin-cli)
	cfg.KeycloakAdminClientID = getEnvDefault("IM_KEYCLOAK_ADMIN_CLIENT_ID", "admin-cli")

	// IM_KEYCLOAK_ADMIN_CLIENT_SECRET — опционально
	cfg.KeycloakAdminClientSecret = getEnvDefault("IM_KEYCLOAK_ADMIN_CLIENT_SECRET", "")

	// IM_KEYCLOAK_ADMIN_USERNAME / _PASSWORD — обязательны, если не задан секрет admin-клиента
	cfg.KeycloakAdminUsername = getEnvDefault("IM_KEYCLOAK_ADMIN_USERNAME", "")
	cfg.KeycloakAdminPassword = getEnvDefault("IM_KEYCLOAK_ADMIN_PASSWORD", "")
	if cfg.KeycloakAdminClientSecret == "" {
		if cfg.KeycloakAdminUsername, err = getEnvRequired("IM_KEYCLOAK_ADMIN_USERNAME"); err != nil {
			return nil, err
		}
		if cfg.KeycloakAdminPassword, err = getEnvRequired("IM_KEYCLOAK_ADMIN_PASSWORD"); err != nil {
			return nil, err
		}
	}

	// IM_KEYCLOAK_USER_REALM — обязательный
	cfg.KeycloakUserRealm, err = getEnvRequired("IM_KEYCLOAK_USER_REALM")
	if err != nil {
		return nil, err
	}

	// IM_KEYCLOAK_USER_CLIENT_ID — обязательный
	cfg.KeycloakUserClientID, err = getEnvRequired("IM_KEYCLOAK_USER_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// IM_KEYCLOAK_USER_CLIENT_SECRET — обязательный
	cfg.KeycloakUserClientSecret, err = getEnvRequired("IM_KEYCLOAK_USER_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	// IM_KEYCLOAK_TIMEOUT — таймаут вызова Keycloak (по умолчанию 10s)
	cfg.KeycloakTimeout, err = getEnvDuration("IM_KEYCLOAK_TIMEOUT", keycloak.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("IM_KEYCLOAK_TIMEOUT: %w", err)
	}
	if cfg.KeycloakTimeout <= 0 {
		return nil, fmt.Errorf("IM_KEYCLOAK_TIMEOUT: значение должно быть больше нуля")
	}

	// IM_KEYCLOAK_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.KeycloakCACertPath = getEnvDefault("IM_KEYCLOAK_CA_CERT_PATH", "")

	// --- JWT ---

	// IM_JWT_ISSUER — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTIssuer = getEnvDefault("IM_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakUserRealm))

	// IM_JWT_JWKS_URL — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTJWKSURL = getEnvDefault("IM_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakUserRealm))

	// IM_JWT_LEEWAY — допуск расхождения часов (по умолчанию 5s)
	cfg.JWTLeeway, err = getEnvDuration("IM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_JWT_LEEWAY: %w", err)
	}

	// IM_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 15m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("IM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// IM_ADMIN_ROLE — realm-роль администратора (по умолчанию identity-admin)
	cfg.AdminRole = getEnvDefault("IM_ADMIN_ROLE", "identity-admin")

	// --- Ограничение частоты входа ---

	// IM_SIGNIN_RATE_LIMIT — попыток за окно (по умолчанию 10)
	cfg.SignInRateLimit, err = getEnvInt("IM_SIGNIN_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("IM_SIGNIN_RATE_LIMIT: %w", err)
	}
	if cfg.SignInRateLimit < 1 {
		return nil, fmt.Errorf("IM_SIGNIN_RATE_LIMIT: значение %d должно быть не меньше 1", cfg.SignInRateLimit)
	}

	// IM_SIGNIN_RATE_WINDOW — окно (по умолчанию 1m)
	cfg.SignInRateWindow, err = getEnvDuration("IM_SIGNIN_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_SIGNIN_RATE_WINDOW: %w", err)
	}
	if cfg.SignInRateWindow <= 0 {
		return nil, fmt.Errorf("IM_SIGNIN_RATE_WINDOW: значение должно быть больше нуля")
	}

	// IM_SIGNIN_RATE_BURST — всплеск (по умолчанию равен лимиту)
	cfg.SignInRateBurst, err = getEnvInt("IM_SIGNIN_RATE_BURST", cfg.SignInRateLimit)
	if err != nil {
		return nil, fmt.Errorf("IM_SIGNIN_RATE_BURST: %w", err)
	}

	// IM_TRUST_PROXY_HEADERS — ключ лимита из заголовков прокси (по умолчанию false)
	cfg.TrustProxyHeaders, err = getEnvBool("IM_TRUST_PROXY_HEADERS", false)
	if err != nil {
		return nil, fmt.Errorf("IM_TRUST_PROXY_HEADERS: %w", err)
	}

	// --- Kafka ---

	// IM_KAFKA_BROKERS — брокеры через запятую (пустое значение отключает публикацию)
	cfg.KafkaBrokers = parseCSV(getEnvDefault("IM_KAFKA_BROKERS", ""))

	// IM_KAFKA_TOPIC — топик событий (по умолчанию identity-events)
	cfg.KafkaTopic = getEnvDefault("IM_KAFKA_TOPIC", "identity-events")

	// --- Мониторинг зависимостей ---

	// IM_DEPHEALTH_GROUP — группа topologymetrics (по умолчанию identity)
	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "identity")

	// IM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("IM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// IM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("IM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_SHUTDOWN_TIMEOUT: %w", err)
	}

	if err := cfg.KeycloakConfig().Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// KeycloakConfig возвращает параметры клиента Keycloak.
func (c *Config) KeycloakConfig() keycloak.Config {
	return keycloak.Config{
		BaseURL:           c.KeycloakURL,
		AdminRealm:        c.KeycloakAdminRealm,
		AdminUsername:     c.KeycloakAdminUsername,
		AdminPassword:     c.KeycloakAdminPassword,
		AdminClientID:     c.KeycloakAdminClientID,
		AdminClientSecret: c.KeycloakAdminClientSecret,
		UserRealm:         c.KeycloakUserRealm,
		UserClientID:      c.KeycloakUserClientID,
		UserClientSecret:  c.KeycloakUserClientSecret,
		Timeout:           c.KeycloakTimeout,
	}
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadEnvFile подгружает переменные из .env файла. Отсутствующий файл — не ошибка.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("IM_ENV_FILE: чтение %s: %w", path, err)
	}
	return nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool читает булеву переменную окружения или возвращает значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Точка входа Identity Module — слой интеграции с Keycloak.
// Загружает конфигурацию, создаёт admin-сессию и клиент Keycloak, фасад
// identity.Service, публикатор событий Kafka, JWT middleware и rate limiter,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bigkaa/goartstore/identity-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/identity-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/identity-module/internal/config"
	"github.com/bigkaa/goartstore/identity-module/internal/identity"
	"github.com/bigkaa/goartstore/identity-module/internal/keycloak"
	"github.com/bigkaa/goartstore/identity-module/internal/messaging"
	"github.com/bigkaa/goartstore/identity-module/internal/server"
	"github.com/bigkaa/goartstore/identity-module/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Identity Module завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run собирает зависимости и блокируется до остановки сервера.
// Ошибки возвращаются, а не завершают процесс: отложенные Close должны выполниться.
func run() error {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Identity Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("IM_DEPHEALTH_GROUP") == "" {
		logger.Warn("IM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. HTTP-клиент Keycloak (с кастомным CA, если задан)
	httpClient, err := keycloak.NewHTTPClient(cfg.KeycloakCACertPath, cfg.KeycloakTimeout)
	if err != nil {
		return fmt.Errorf("HTTP-клиент Keycloak: %w", err)
	}
	if cfg.KeycloakCACertPath != "" {
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.KeycloakCACertPath))
	}

	// 4. Admin-сессия и клиент Keycloak
	kcCfg := cfg.KeycloakConfig()
	adminSession := keycloak.NewAdminSession(kcCfg, httpClient, logger)
	kcClient := keycloak.New(kcCfg, adminSession, httpClient, logger)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("admin_realm", cfg.KeycloakAdminRealm),
		slog.String("user_realm", cfg.KeycloakUserRealm),
	)

	// 5. Фасад Identity Provider
	identitySvc := identity.NewService(kcClient, kcClient, logger)

	// 6. Публикатор событий (Kafka или no-op)
	var publisher messaging.Publisher = messaging.NopPublisher{}
	var kafkaChecker handlers.ReadinessChecker
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = kafkaPublisher
		kafkaChecker = kafkaPublisher
		logger.Info("Публикация событий в Kafka включена",
			slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
			slog.String("topic", cfg.KafkaTopic),
		)
	} else {
		logger.Info("IM_KAFKA_BROKERS не задана, события не публикуются")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Ошибка закрытия публикатора", slog.String("error", err.Error()))
		}
	}()

	// 7. JWT middleware (JWKS realm пользователей)
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		httpClient,
		cfg.JWTIssuer,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		return fmt.Errorf("инициализация JWT middleware: %w", err)
	}
	defer jwtAuth.Close()
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
		slog.String("admin_role", cfg.AdminRole),
	)

	// 8. Rate limiter попыток входа
	keyExtractor := middleware.IPKeyExtractor
	if cfg.TrustProxyHeaders {
		keyExtractor = middleware.ProxyIPKeyExtractor
		logger.Info("Rate limiter берёт IP клиента из X-Forwarded-For/X-Real-IP")
	}
	signInLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerWindow: cfg.SignInRateLimit,
		Window:            cfg.SignInRateWindow,
		Burst:             cfg.SignInRateBurst,
	}, keyExtractor, logger)

	// 9. Handlers
	healthHandler := handlers.NewHealthHandler(kcClient, kafkaChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, identitySvc, kcClient, publisher, logger)

	// 10. topologymetrics — мониторинг Keycloak
	ctx := context.Background()
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"identity-module",
		cfg.DephealthGroup,
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		cfg.KeycloakCACertPath != "", // собственный CA недоступен checker'у
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler,
		server.Routes{
			Admin:  []server.Middleware{jwtAuth.Middleware(), middleware.RequireRole(cfg.AdminRole)},
			SignIn: []server.Middleware{signInLimiter.Middleware()},
		},
		middleware.RequestID(),
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if err := srv.Run(); err != nil {
		return fmt.Errorf("HTTP-сервер: %w", err)
	}

	// 12. Фоновые задачи и публикатор закрываются отложенными вызовами
	logger.Info("Identity Module остановлен")
	return nil
}

// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Identity Module мониторит одну критичную зависимость:
//   - Keycloak — HTTP checker к JWKS endpoint realm пользователей (critical)
//
// Kafka в граф зависимостей не входит: события опциональны, их доступность
// отражает /health/ready (статус degraded).
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для Keycloak
	"github.com/prometheus/client_golang/prometheus"
)

// defaultHealthPath — path проверки, если из JWKS URL его извлечь не удалось.
const defaultHealthPath = "/health"

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения ("identity-module")
//   - group — имя группы в метриках (IM_DEPHEALTH_GROUP)
//   - keycloakJWKSURL — URL JWKS endpoint Keycloak
//   - checkInterval — интервал проверки (IM_DEPHEALTH_CHECK_INTERVAL)
//   - tlsSkipVerify — не проверять сертификат Keycloak (задан собственный CA)
//
// HTTP checker SDK создаёт свой http.Client и принимает только флаг
// WithHTTPTLSSkipVerify, передать ему пул CA нельзя. Поэтому при собственном CA
// checker отслеживает лишь доступность JWKS endpoint, а доверие к сертификату
// проверяет /health/ready через keycloak.Client с загруженным CA.
func NewDephealthService(
	serviceID string,
	group string,
	keycloakJWKSURL string,
	checkInterval time.Duration,
	tlsSkipVerify bool,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, keycloakJWKSURL, checkInterval, tlsSkipVerify, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	keycloakJWKSURL string,
	checkInterval time.Duration,
	tlsSkipVerify bool,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, keycloakJWKSURL, checkInterval, tlsSkipVerify, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	keycloakJWKSURL string,
	checkInterval time.Duration,
	tlsSkipVerify bool,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP("keycloak-jwks",
			dephealth.FromURL(keycloakJWKSURL),
			dephealth.WithHTTPHealthPath(healthPathFromURL(keycloakJWKSURL)),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(tlsSkipVerify),
		),
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPathFromURL извлекает path проверки из JWKS URL.
// /health у Keycloak доступен только на management порту (9000),
// поэтому проверяется сам JWKS endpoint realm.
func healthPathFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return defaultHealthPath
	}
	return parsed.Path
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (Keycloak)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ: имя зависимости, значение true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

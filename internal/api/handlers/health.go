// health.go — обработчики health endpoints Identity Module.
// /health/live — liveness-проверка (процесс жив)
// /health/ready — readiness-проверка (Keycloak доступен, Kafka опционально)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/identity-module/internal/config"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	kcChecker    ReadinessChecker
	kafkaChecker ReadinessChecker
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// kcChecker проверяет Keycloak; при nil readiness вернёт "fail".
// kafkaChecker проверяет Kafka; nil означает, что публикация событий отключена.
func NewHealthHandler(kcChecker, kafkaChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		kcChecker:    kcChecker,
		kafkaChecker: kafkaChecker,
		promHandler:  promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness-проверки.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness-проверки.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Keycloak healthCheckResult  `json:"keycloak"`
		Kafka    *healthCheckResult `json:"kafka,omitempty"`
	} `json:"checks"`
}

// HealthLive — liveness-проверка. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "identity-module",
	})
}

// HealthReady — readiness-проверка. Проверяет Keycloak и, если настроена, Kafka.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "identity-module",
	}

	statuses := make([]string, 0, 2)

	// Проверяем Keycloak
	if h.kcChecker != nil {
		kcStatus, kcMsg := h.kcChecker.CheckReady()
		resp.Checks.Keycloak = healthCheckResult{Status: kcStatus, Message: kcMsg}
	} else {
		resp.Checks.Keycloak = healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}
	statuses = append(statuses, resp.Checks.Keycloak.Status)

	// Проверяем Kafka
	if h.kafkaChecker != nil {
		kafkaStatus, kafkaMsg := h.kafkaChecker.CheckReady()
		resp.Checks.Kafka = &healthCheckResult{Status: kafkaStatus, Message: kafkaMsg}
		statuses = append(statuses, kafkaStatus)
	}

	// Определяем итоговый статус
	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}

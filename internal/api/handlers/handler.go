// handler.go — основной обработчик API Identity Module.
// Делегирует запросы в фасад identity.Service и публикует события.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/identity-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/identity-module/internal/identity"
	"github.com/bigkaa/goartstore/identity-module/internal/messaging"
)

// publishTimeout — таймаут публикации одного события.
const publishTimeout = 5 * time.Second

// IdentityService — операции фасада Identity Provider.
type IdentityService interface {
	CreateUser(ctx context.Context, username, password string) error
	SignIn(ctx context.Context, username, password string) (*identity.AuthorizationResult, error)
	SignOut(ctx context.Context, refreshToken string) error
	SetNewPassword(ctx context.Context, username, newPassword string) error
}

// SessionCounter — количество активных сессий клиента приложения в IdP.
type SessionCounter interface {
	ActiveSessions(ctx context.Context) (int, error)
}

// APIHandler — основной обработчик API Identity Module.
type APIHandler struct {
	health    *HealthHandler
	identity  IdentityService
	sessions  SessionCounter
	publisher messaging.Publisher
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// publisher может быть nil — тогда события не публикуются.
func NewAPIHandler(
	health *HealthHandler,
	identitySvc IdentityService,
	sessions SessionCounter,
	publisher messaging.Publisher,
	logger *slog.Logger,
) *APIHandler {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &APIHandler{
		health:    health,
		identity:  identitySvc,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// publish отправляет событие после успешной операции.
// Ошибка публикации только логируется: операция в IdP уже выполнена.
// KafkaPublisher не ждёт брокера, publishTimeout ограничивает только постановку в очередь.
func (h *APIHandler) publish(r *http.Request, eventType, username string) {
	msg := messaging.NewMessage(eventType, username)
	msg.Actor = middleware.SubjectFromContext(r.Context())
	msg.RequestID = middleware.RequestIDFromContext(r.Context())

	// Отмена клиентского запроса не должна обрывать публикацию
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
	defer cancel()

	if err := h.publisher.Send(ctx, msg); err != nil {
		h.logger.Warn("Событие не опубликовано",
			slog.String("type", eventType),
			slog.String("event_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

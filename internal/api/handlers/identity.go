// identity.go — обработчики /api/v1/users, /api/v1/auth и /api/v1/idp endpoints.
// Права (роль администратора) проверяет middleware.RequireRole на уровне роутера.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/identity-module/internal/api/errors"
	"github.com/bigkaa/goartstore/identity-module/internal/identity"
	"github.com/bigkaa/goartstore/identity-module/internal/messaging"
)

// maxRequestBody — максимальный размер тела JSON-запроса.
const maxRequestBody = 64 << 10

// credentialsRequest — тело POST /api/v1/users и POST /api/v1/auth/sign-in.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// signOutRequest — тело POST /api/v1/auth/sign-out.
type signOutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// setPasswordRequest — тело PUT /api/v1/users/{username}/password.
type setPasswordRequest struct {
	Password string `json:"password"`
}

// userCreatedResponse — ответ POST /api/v1/users.
type userCreatedResponse struct {
	Username string `json:"username"`
}

// tokenResponse — ответ POST /api/v1/auth/sign-in.
type tokenResponse struct {
	AccessToken      string     `json:"access_token"`
	RefreshToken     string     `json:"refresh_token"`
	TokenType        string     `json:"token_type"`
	ExpiresIn        int        `json:"expires_in"`
	RefreshExpiresIn int        `json:"refresh_expires_in"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	Scope            string     `json:"scope,omitempty"`
}

// sessionsResponse — ответ GET /api/v1/idp/sessions.
type sessionsResponse struct {
	Active    int       `json:"active"`
	CheckedAt time.Time `json:"checked_at"`
}

// CreateUser — POST /api/v1/users.
// Создаёт включённого пользователя с постоянным паролем.
// Доступ: роль администратора.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		apierrors.ValidationError(w, "Поля username и password обязательны")
		return
	}

	if err := h.identity.CreateUser(r.Context(), req.Username, req.Password); err != nil {
		h.writeIdentityError(w, err)
		return
	}

	h.publish(r, messaging.EventUserCreated, req.Username)
	writeJSON(w, http.StatusCreated, userCreatedResponse{Username: req.Username})
}

// SignIn — POST /api/v1/auth/sign-in.
// Вход по username/password, ответ — токены IdP.
// Доступ: публичный, ограничен по частоте.
func (h *APIHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.identity.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeIdentityError(w, err)
		return
	}

	resp := tokenResponse{
		AccessToken:      result.AccessToken,
		RefreshToken:     result.RefreshToken,
		TokenType:        result.TokenType,
		ExpiresIn:        result.ExpiresIn,
		RefreshExpiresIn: result.RefreshExpiresIn,
		ExpiresAt:        result.ExpiresAt.UTC(),
		Scope:            result.Scope,
	}
	if !result.RefreshExpiresAt.IsZero() {
		refreshExpiresAt := result.RefreshExpiresAt.UTC()
		resp.RefreshExpiresAt = &refreshExpiresAt
	}

	h.publish(r, messaging.EventUserSignedIn, req.Username)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// SignOut — POST /api/v1/auth/sign-out.
// Завершает сессию по refresh token.
// Доступ: публичный (refresh token сам является учётными данными).
func (h *APIHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	var req signOutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		apierrors.ValidationError(w, "Поле refresh_token обязательно")
		return
	}

	if err := h.identity.SignOut(r.Context(), req.RefreshToken); err != nil {
		h.writeIdentityError(w, err)
		return
	}

	// Username берётся из самого токена, если IdP его туда кладёт
	var username string
	if claims, err := identity.DescribeToken(req.RefreshToken); err == nil {
		username = claims.PreferredUsername
	}
	h.publish(r, messaging.EventUserSignedOut, username)

	w.WriteHeader(http.StatusNoContent)
}

// SetNewPassword — PUT /api/v1/users/{username}/password.
// Заменяет пароль пользователя на постоянный.
// Доступ: роль администратора.
func (h *APIHandler) SetNewPassword(w http.ResponseWriter, r *http.Request) {
	// chi отдаёт сегмент из RawPath без декодирования (alice%40example.com)
	username, err := url.PathUnescape(chi.URLParam(r, "username"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный username в пути: "+err.Error())
		return
	}

	var req setPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if username == "" || req.Password == "" {
		apierrors.ValidationError(w, "Username и password обязательны")
		return
	}

	if err := h.identity.SetNewPassword(r.Context(), username, req.Password); err != nil {
		h.writeIdentityError(w, err)
		return
	}

	h.publish(r, messaging.EventUserPasswordReset, username)
	w.WriteHeader(http.StatusNoContent)
}

// GetIdpSessions — GET /api/v1/idp/sessions.
// Количество активных сессий клиента приложения.
// Доступ: роль администратора.
func (h *APIHandler) GetIdpSessions(w http.ResponseWriter, r *http.Request) {
	active, err := h.sessions.ActiveSessions(r.Context())
	if err != nil {
		h.logger.Warn("Ошибка получения статистики сессий", slog.String("error", err.Error()))
		apierrors.IDPUnavailable(w, "Не удалось получить статистику сессий Keycloak")
		return
	}

	writeJSON(w, http.StatusOK, sessionsResponse{
		Active:    active,
		CheckedAt: time.Now().UTC(),
	})
}

// writeIdentityError переводит ошибку фасада в HTTP-ответ.
func (h *APIHandler) writeIdentityError(w http.ResponseWriter, err error) {
	var creationErr *identity.UserCreationFailedError

	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, identity.ErrUnauthorized):
		apierrors.InvalidCredentials(w, "Неверные учётные данные")
	case errors.Is(err, identity.ErrUserNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, identity.ErrAmbiguousUser):
		apierrors.Conflict(w, err.Error())
	case errors.As(err, &creationErr) && creationErr.Status == http.StatusConflict:
		apierrors.Conflict(w, "Пользователь с таким username уже существует")
	default:
		h.logger.Warn("Ошибка Identity Provider", slog.String("error", err.Error()))
		apierrors.IDPUnavailable(w, "Identity Provider не выполнил операцию")
	}
}

// decodeBody разбирает JSON тело запроса. При ошибке пишет 400 и возвращает false.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

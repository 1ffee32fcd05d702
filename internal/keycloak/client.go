// client.go — HTTP-клиент к Keycloak.
// Admin REST API вызывается с admin token из AdminTokenSource,
// OIDC endpoints (token, logout) — с учётными данными пользовательского клиента.
// Операции: CreateUser, FindUsersByUsername, ResetPassword, PasswordGrant,
// Logout, ClientSessionStats, ActiveSessions, RealmInfo.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client — HTTP-клиент к Keycloak.
type Client struct {
	cfg        Config
	admin      AdminTokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент Keycloak.
// admin — источник admin token (обычно *AdminSession).
// httpClient может содержать TLS конфигурацию; при nil создаётся клиент с cfg.Timeout.
func New(cfg Config, admin AdminTokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout()}
	}

	return &Client{
		cfg:        cfg,
		admin:      admin,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "keycloak_client")),
	}
}

// withTimeout ограничивает вызов таймаутом из конфигурации.
// cancel вызывается только после чтения тела ответа.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.timeout())
}

// --- HTTP helpers ---

// doAuthorized выполняет запрос к Admin REST API с admin token.
// При 401 кэш токена сбрасывается, следующий вызов получит новый.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.admin.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение admin token: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.adminBaseURL()+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.admin.Invalidate()
		c.logger.Warn("Admin API отклонил admin token, кэш сброшен",
			slog.String("method", method),
			slog.String("path", path),
		)
	}

	return resp, nil
}

// decodeResponse проверяет статус 200 и декодирует JSON ответ в target.
func decodeResponse(op string, resp *http.Response, target any) error {
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return newStatusError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(op string, resp *http.Response, expectedStatus int) error {
	defer closeBody(resp)

	if resp.StatusCode != expectedStatus {
		return newStatusError(op, resp)
	}

	return nil
}

// --- Sessions API ---

// ClientSessionStats возвращает статистику сессий по клиентам пользовательского realm.
// Клиенты без активных сессий Keycloak не включает в ответ.
func (c *Client) ClientSessionStats(ctx context.Context) ([]ClientSessionStats, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.doAuthorized(ctx, http.MethodGet, "/client-session-stats", nil)
	if err != nil {
		return nil, fmt.Errorf("ClientSessionStats: %w", err)
	}

	var stats []ClientSessionStats
	if err := decodeResponse("ClientSessionStats", resp, &stats); err != nil {
		return nil, err
	}

	return stats, nil
}

// ActiveSessions возвращает число активных сессий пользовательского клиента.
func (c *Client) ActiveSessions(ctx context.Context) (int, error) {
	stats, err := c.ClientSessionStats(ctx)
	if err != nil {
		return 0, err
	}

	for _, s := range stats {
		if s.ClientID == c.cfg.UserClientID {
			return int(s.Active), nil
		}
	}

	return 0, nil
}

// --- Realm API ---

// RealmInfo возвращает информацию о пользовательском realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.doAuthorized(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}

	var realm RealmRepresentation
	if err := decodeResponse("RealmInfo", resp, &realm); err != nil {
		return nil, err
	}

	return &realm, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}

// admin_token.go — получение и кэширование admin access token.
// Токен запрашивается лениво при первом привилегированном вызове
// и обновляется за 30s до expiration.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenRefreshSkew — запас до истечения токена, после которого он обновляется.
const tokenRefreshSkew = 30 * time.Second

// AdminTokenSource — источник admin token для Admin REST API.
type AdminTokenSource interface {
	// Token возвращает действующий admin token.
	Token(ctx context.Context) (string, error)
	// Invalidate сбрасывает кэш (например, после 401 от Admin API).
	Invalidate()
}

// AdminSession — кэш admin token.
// Безопасна для конкурентного использования: обновление сериализовано мьютексом,
// параллельные вызовы во время обновления ждут и получают тот же токен.
type AdminSession struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewAdminSession создаёт сессию администратора.
// httpClient может содержать TLS конфигурацию; nil — клиент с cfg.Timeout.
func NewAdminSession(cfg Config, httpClient *http.Client, logger *slog.Logger) *AdminSession {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout()}
	}
	return &AdminSession{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "keycloak_admin_session")),
		now:        time.Now,
	}
}

// Token возвращает актуальный admin token, обновляя при необходимости.
func (s *AdminSession) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && s.now().Add(tokenRefreshSkew).Before(s.tokenExpiry) {
		return s.accessToken, nil
	}

	token, err := s.requestToken(ctx)
	if err != nil {
		return "", err
	}

	s.accessToken = token.AccessToken
	s.tokenExpiry = s.now().Add(time.Duration(token.ExpiresIn) * time.Second)

	s.logger.Debug("Admin token Keycloak обновлён",
		slog.Time("expires_at", s.tokenExpiry),
	)

	return s.accessToken, nil
}

// Invalidate сбрасывает кэшированный токен.
func (s *AdminSession) Invalidate() {
	s.mu.Lock()
	s.accessToken = ""
	s.tokenExpiry = time.Time{}
	s.mu.Unlock()
}

// grantForm формирует тело запроса токена.
// Password grant для администратора, client_credentials для service account.
func (s *AdminSession) grantForm() url.Values {
	form := url.Values{"client_id": {s.cfg.AdminClientID}}
	if s.cfg.AdminClientSecret != "" {
		form.Set("client_secret", s.cfg.AdminClientSecret)
	}
	if s.cfg.AdminUsername == "" {
		form.Set("grant_type", "client_credentials")
		return form
	}
	form.Set("grant_type", "password")
	form.Set("username", s.cfg.AdminUsername)
	form.Set("password", s.cfg.AdminPassword)
	return form
}

// requestToken запрашивает новый admin token.
func (s *AdminSession) requestToken(ctx context.Context) (*TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	endpoint := s.cfg.TokenEndpoint(s.cfg.AdminRealm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(s.grantForm().Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса admin token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос admin token Keycloak: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("AdminToken", resp)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("%w: admin token: %v", ErrMalformedResponse, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: admin token: пустой access_token", ErrMalformedResponse)
	}

	return &token, nil
}

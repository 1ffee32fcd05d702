// token.go — OIDC endpoints пользовательского realm: direct grant и logout.
// Запросы идут с учётными данными пользователя и клиента, admin token не используется.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// postForm отправляет x-www-form-urlencoded запрос без авторизации.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

// clientForm возвращает client_id/client_secret пользовательского клиента.
func (c *Client) clientForm() url.Values {
	form := url.Values{"client_id": {c.cfg.UserClientID}}
	if c.cfg.UserClientSecret != "" {
		form.Set("client_secret", c.cfg.UserClientSecret)
	}
	return form
}

// PasswordGrant выполняет Resource Owner Password Credentials flow.
// Успех — 200 с непустыми access_token и refresh_token.
// Неожиданный статус возвращается как *StatusError, битый ответ — ErrMalformedResponse.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	form := c.clientForm()
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.postForm(ctx, c.cfg.TokenEndpoint(c.cfg.UserRealm), form)
	if err != nil {
		return nil, fmt.Errorf("PasswordGrant: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("PasswordGrant", resp)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("PasswordGrant: %w: %v", ErrMalformedResponse, err)
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return nil, fmt.Errorf("PasswordGrant: %w: отсутствует access_token или refresh_token", ErrMalformedResponse)
	}

	return &token, nil
}

// Logout завершает сессию по refresh token. Успех — только 204 No Content.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	form := c.clientForm()
	form.Set("refresh_token", refreshToken)

	resp, err := c.postForm(ctx, c.cfg.LogoutEndpoint(c.cfg.UserRealm), form)
	if err != nil {
		return fmt.Errorf("Logout: %w", err)
	}

	return checkResponse("Logout", resp, http.StatusNoContent)
}

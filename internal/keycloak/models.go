// Пакет keycloak — HTTP-клиент к Keycloak (Admin REST API + OIDC endpoints).
// models.go — модели данных Keycloak.
package keycloak

import (
	"bytes"
	"strconv"
	"time"
)

// Типы учётных данных Keycloak.
const (
	// CredentialTypePassword — парольные учётные данные.
	CredentialTypePassword = "password"
)

// TokenResponse — ответ token endpoint (password и client_credentials grant).
type TokenResponse struct {
	AccessToken      string `json:"access_token"`  //nolint:gosec // G117: структура токена OAuth2
	RefreshToken     string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
}

// TokenError — ошибка от token/logout endpoint Keycloak.
type TokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// UserRepresentation — пользователь в Keycloak.
type UserRepresentation struct {
	ID            string                     `json:"id,omitempty"`
	Username      string                     `json:"username"`
	Email         string                     `json:"email,omitempty"`
	Enabled       bool                       `json:"enabled"`
	EmailVerified bool                       `json:"emailVerified,omitempty"`
	CreatedAt     int64                      `json:"createdTimestamp,omitempty"`
	Credentials   []CredentialRepresentation `json:"credentials,omitempty"`
}

// CreatedAtTime возвращает CreatedAt как time.Time.
// Keycloak хранит timestamp в миллисекундах. Без createdTimestamp — нулевое время.
func (u *UserRepresentation) CreatedAtTime() time.Time {
	if u.CreatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(u.CreatedAt)
}

// CredentialRepresentation — учётные данные пользователя.
// Используется и при создании пользователя, и в теле reset-password.
type CredentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"` //nolint:gosec // G117: пароль передаётся в Keycloak
	Temporary bool   `json:"temporary"`
}

// PasswordCredential возвращает постоянный (не временный) пароль.
func PasswordCredential(value string) CredentialRepresentation {
	return CredentialRepresentation{
		Type:      CredentialTypePassword,
		Value:     value,
		Temporary: false,
	}
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// ClientSessionStats — статистика сессий одного клиента realm.
// Keycloak отдаёт счётчики строками ("2"), старые версии — числами.
type ClientSessionStats struct {
	ID       string        `json:"id"`
	ClientID string        `json:"clientId"`
	Active   flexibleCount `json:"active"`
	Offline  flexibleCount `json:"offline"`
}

// flexibleCount — счётчик, принимающий и "2", и 2.
type flexibleCount int

// UnmarshalJSON разбирает число, записанное строкой или числом.
func (c *flexibleCount) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*c = flexibleCount(n)
	return nil
}

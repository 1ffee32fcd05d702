package keycloak

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout — таймаут одного вызова Keycloak, если в Config не задан.
const DefaultTimeout = 10 * time.Second

// Config — параметры подключения к Keycloak.
// Создаётся один раз при старте и передаётся по значению.
type Config struct {
	// BaseURL — базовый URL Keycloak (например, https://keycloak.kryukov.lan).
	BaseURL string

	// AdminRealm — realm, в котором аутентифицируется администратор (обычно master).
	AdminRealm string
	// AdminUsername, AdminPassword — учётные данные администратора.
	AdminUsername string
	AdminPassword string
	// AdminClientID — клиент для получения admin token (обычно admin-cli).
	AdminClientID string
	// AdminClientSecret — секрет admin-клиента. Если задан, а AdminUsername пуст,
	// используется Client Credentials flow вместо password grant.
	AdminClientSecret string

	// UserRealm — realm, в котором живут пользователи приложения.
	UserRealm string
	// UserClientID, UserClientSecret — конфиденциальный клиент для direct grant и logout.
	UserClientID     string
	UserClientSecret string

	// Timeout — ограничение на один HTTP-вызов.
	Timeout time.Duration
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("keycloak: не задан BaseURL")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("keycloak: некорректный BaseURL %q: %w", c.BaseURL, err)
	}
	if c.AdminRealm == "" || c.UserRealm == "" {
		return fmt.Errorf("keycloak: не заданы AdminRealm/UserRealm")
	}
	if c.AdminClientID == "" {
		return fmt.Errorf("keycloak: не задан AdminClientID")
	}
	if c.AdminUsername == "" && c.AdminClientSecret == "" {
		return fmt.Errorf("keycloak: нужны AdminUsername/AdminPassword или AdminClientSecret")
	}
	if c.UserClientID == "" {
		return fmt.Errorf("keycloak: не задан UserClientID")
	}
	return nil
}

func (c Config) baseURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// realmURL возвращает {base}/realms/{realm}.
func (c Config) realmURL(realm string) string {
	return c.baseURL() + "/realms/" + url.PathEscape(realm)
}

// TokenEndpoint — OIDC token endpoint указанного realm.
func (c Config) TokenEndpoint(realm string) string {
	return c.realmURL(realm) + "/protocol/openid-connect/token"
}

// LogoutEndpoint — OIDC logout endpoint указанного realm.
func (c Config) LogoutEndpoint(realm string) string {
	return c.realmURL(realm) + "/protocol/openid-connect/logout"
}

// Issuer — значение iss в токенах пользовательского realm.
func (c Config) Issuer() string {
	return c.realmURL(c.UserRealm)
}

// JWKSURL — JWKS endpoint пользовательского realm.
func (c Config) JWKSURL() string {
	return c.realmURL(c.UserRealm) + "/protocol/openid-connect/certs"
}

// adminBaseURL возвращает базовый URL Admin REST API для пользовательского realm.
func (c Config) adminBaseURL() string {
	return c.baseURL() + "/admin/realms/" + url.PathEscape(c.UserRealm)
}

package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims — claims access token Keycloak, нужные вызывающему коду.
type TokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Type              string `json:"typ"`
	SessionID         string `json:"sid"`
	AuthorizedParty   string `json:"azp"`
}

// DescribeToken декодирует claims выданного IdP токена без проверки подписи.
// Подлинность токена гарантирует канал к IdP, из которого он получен;
// для проверки входящих токенов служит middleware.JWTAuth.
func DescribeToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("разбор токена: %w", err)
	}
	return claims, nil
}

// DescribeToken — DescribeToken для результата входа.
func (r *AuthorizationResult) DescribeToken() (*TokenClaims, error) {
	return DescribeToken(r.AccessToken)
}

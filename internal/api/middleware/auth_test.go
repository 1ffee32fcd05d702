package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// testKeyID — идентификатор ключа для тестов.
	testKeyID = "test-key-im"
	// testIssuer — issuer тестовых токенов.
	testIssuer = "https://keycloak.test/realms/app"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth с JWKS из тестового ключа.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, 0, testLogger())
}

// tokenOptions — параметры тестового токена.
type tokenOptions struct {
	issuer  string
	expired bool
	roles   []string
	method  jwt.SigningMethod
}

// generateToken подписывает JWT с claims Keycloak.
func generateToken(t *testing.T, key *rsa.PrivateKey, opts tokenOptions) string {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	if opts.expired {
		exp = time.Now().Add(-time.Hour)
	}
	issuer := opts.issuer
	if issuer == "" {
		issuer = testIssuer
	}

	claims := jwt.MapClaims{
		"sub":                "admin-uuid",
		"preferred_username": "root",
		"azp":                "admin-console",
		"iss":                issuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(opts.roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": opts.roles}
	}

	method := opts.method
	if method == nil {
		method = jwt.SigningMethodRS256
	}
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = testKeyID

	var signKey any = key
	if method == jwt.SigningMethodHS256 {
		signKey = []byte("shared-secret")
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}
	return signed
}

// protectedHandler — цепочка JWTAuth → RequireRole → 200 OK.
func protectedHandler(auth *JWTAuth, role string) http.Handler {
	return auth.Middleware()(RequireRole(role)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SubjectFromContext(r.Context()) != "root" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})))
}

func TestJWTAuth_Middleware(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	defer auth.Close()

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{
			name:       "валидный токен с ролью",
			header:     "Bearer " + generateToken(t, key, tokenOptions{roles: []string{"identity-admin"}}),
			wantStatus: http.StatusOK,
		},
		{
			name:       "нет роли",
			header:     "Bearer " + generateToken(t, key, tokenOptions{roles: []string{"user"}}),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "без realm_access",
			header:     "Bearer " + generateToken(t, key, tokenOptions{}),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "просроченный токен",
			header:     "Bearer " + generateToken(t, key, tokenOptions{expired: true, roles: []string{"identity-admin"}}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "чужой issuer",
			header:     "Bearer " + generateToken(t, key, tokenOptions{issuer: "https://evil/realms/app", roles: []string{"identity-admin"}}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "подпись другим ключом",
			header:     "Bearer " + generateToken(t, otherKey, tokenOptions{roles: []string{"identity-admin"}}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "HS256 отклоняется",
			header:     "Bearer " + generateToken(t, key, tokenOptions{method: jwt.SigningMethodHS256, roles: []string{"identity-admin"}}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "без заголовка",
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "не Bearer",
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "пустой Bearer",
			header:     "Bearer ",
			wantStatus: http.StatusUnauthorized,
		},
	}

	handler := protectedHandler(auth, "identity-admin")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/idp/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, ожидался %d (тело: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRequireRole_NoClaims(t *testing.T) {
	handler := RequireRole("identity-admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, ожидался 401", rec.Code)
	}
}

func TestAuthClaims_HasRole(t *testing.T) {
	claims := &AuthClaims{Roles: []string{"offline_access", "identity-admin"}}
	if !claims.HasRole("identity-admin") {
		t.Error("HasRole(identity-admin) = false")
	}
	if claims.HasRole("admin") {
		t.Error("HasRole(admin) = true")
	}
}

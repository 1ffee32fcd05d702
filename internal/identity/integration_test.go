//go:build integration

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/identity-module/internal/keycloak"
)

const (
	keycloakImage = "quay.io/keycloak/keycloak:26.3"

	itAdminUser     = "admin"
	itAdminPassword = "admin"
	itRealm         = "app"
	itClientID      = "app-client"
	itClientSecret  = "app-secret"
)

// setupKeycloak запускает Keycloak в Docker-контейнере через testcontainers
// и создаёт realm с конфиденциальным клиентом для direct grant.
func setupKeycloak(t *testing.T) keycloak.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: установите TEST_INTEGRATION=1")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        keycloakImage,
		ExposedPorts: []string{"8080/tcp"},
		Cmd:          []string{"start-dev"},
		Env: map[string]string{
			"KC_BOOTSTRAP_ADMIN_USERNAME": itAdminUser,
			"KC_BOOTSTRAP_ADMIN_PASSWORD": itAdminPassword,
		},
		WaitingFor: wait.ForHTTP("/realms/master").
			WithPort("8080/tcp").
			WithStartupTimeout(3 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	cfg := keycloak.Config{
		BaseURL:          fmt.Sprintf("http://%s:%s", host, port.Port()),
		AdminRealm:       "master",
		AdminUsername:    itAdminUser,
		AdminPassword:    itAdminPassword,
		AdminClientID:    "admin-cli",
		UserRealm:        itRealm,
		UserClientID:     itClientID,
		UserClientSecret: itClientSecret,
		Timeout:          10 * time.Second,
	}

	createRealm(t, cfg)
	return cfg
}

// createRealm импортирует realm с клиентом через Admin REST API.
// VERIFY_PROFILE отключён: пользователи без email должны проходить direct grant.
func createRealm(t *testing.T, cfg keycloak.Config) {
	t.Helper()
	ctx := context.Background()

	token, err := keycloak.NewAdminSession(cfg, nil, testLogger()).Token(ctx)
	require.NoError(t, err)

	realm := map[string]any{
		"realm":   itRealm,
		"enabled": true,
		"clients": []map[string]any{{
			"clientId":                  itClientID,
			"enabled":                   true,
			"publicClient":              false,
			"secret":                    itClientSecret,
			"directAccessGrantsEnabled": true,
			"standardFlowEnabled":       false,
		}},
		"requiredActions": []map[string]any{{
			"alias":         "VERIFY_PROFILE",
			"name":          "Verify Profile",
			"providerId":    "VERIFY_PROFILE",
			"enabled":       false,
			"defaultAction": false,
			"priority":      90,
		}},
	}
	body, err := json.Marshal(realm)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/admin/realms", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// TestIntegration_IdentityFlows проверяет операции фасада на настоящем Keycloak.
func TestIntegration_IdentityFlows(t *testing.T) {
	cfg := setupKeycloak(t)

	session := keycloak.NewAdminSession(cfg, nil, testLogger())
	client := keycloak.New(cfg, session, nil, testLogger())
	svc := NewService(client, client, testLogger())
	ctx := context.Background()

	sessions := func() int {
		n, err := client.ActiveSessions(ctx)
		require.NoError(t, err)
		return n
	}

	t.Run("alice: создание, вход, выход, повторный вход", func(t *testing.T) {
		require.NoError(t, svc.CreateUser(ctx, "alice", "secret1"))
		baseline := sessions()

		result, err := svc.SignIn(ctx, "alice", "secret1")
		require.NoError(t, err)
		require.NotEmpty(t, result.AccessToken)
		require.NotEmpty(t, result.RefreshToken)
		require.Equal(t, baseline+1, sessions())

		claims, err := result.DescribeToken()
		require.NoError(t, err)
		require.Equal(t, "alice", claims.PreferredUsername)

		require.NoError(t, svc.SignOut(ctx, result.RefreshToken))
		require.Equal(t, baseline, sessions())

		_, err = svc.SignIn(ctx, "alice", "secret1")
		require.NoError(t, err)
	})

	t.Run("повторное создание", func(t *testing.T) {
		require.NoError(t, svc.CreateUser(ctx, "bob", "pw1"))

		err := svc.CreateUser(ctx, "bob", "pw2")
		var creationErr *UserCreationFailedError
		require.ErrorAs(t, err, &creationErr)
		require.Equal(t, http.StatusConflict, creationErr.Status)
	})

	t.Run("неверный пароль", func(t *testing.T) {
		baseline := sessions()
		_, err := svc.SignIn(ctx, "bob", "wrong")
		require.ErrorIs(t, err, ErrUnauthorized)
		require.Equal(t, baseline, sessions())
	})

	t.Run("повторный logout", func(t *testing.T) {
		result, err := svc.SignIn(ctx, "bob", "pw1")
		require.NoError(t, err)
		require.NoError(t, svc.SignOut(ctx, result.RefreshToken))

		err = svc.SignOut(ctx, result.RefreshToken)
		require.ErrorIs(t, err, ErrLogoutFailed)
	})

	t.Run("замена пароля", func(t *testing.T) {
		require.NoError(t, svc.CreateUser(ctx, "carol", "old"))
		require.NoError(t, svc.SetNewPassword(ctx, "carol", "new"))

		_, err := svc.SignIn(ctx, "carol", "old")
		require.ErrorIs(t, err, ErrUnauthorized)
		_, err = svc.SignIn(ctx, "carol", "new")
		require.NoError(t, err)
	})

	t.Run("замена пароля несуществующему", func(t *testing.T) {
		err := svc.SetNewPassword(ctx, "ghost", "pw")
		var notFound *UserNotFoundError
		require.ErrorAs(t, err, &notFound)
		require.Equal(t, "ghost", notFound.Username)
	})
}

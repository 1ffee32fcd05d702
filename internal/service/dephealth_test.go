// dephealth_test.go — unit-тесты сервиса topologymetrics.
package service

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestHealthPathFromURL проверяет извлечение path проверки Keycloak.
func TestHealthPathFromURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "JWKS URL realm",
			input:    "https://keycloak.kryukov.lan/realms/app/protocol/openid-connect/certs",
			expected: "/realms/app/protocol/openid-connect/certs",
		},
		{
			name:     "URL без path",
			input:    "https://keycloak.kryukov.lan",
			expected: "/health",
		},
		{
			name:     "некорректный URL",
			input:    "://bad",
			expected: "/health",
		},
		{
			name:     "пустая строка",
			input:    "",
			expected: "/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := healthPathFromURL(tt.input); got != tt.expected {
				t.Errorf("healthPathFromURL(%q) = %q, ожидался %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestNewDephealthService_TLS проверяет создание checker'а Keycloak
// с проверкой сертификата и без неё (собственный CA).
func TestNewDephealthService_TLS(t *testing.T) {
	for _, skipVerify := range []bool{false, true} {
		ds, err := NewDephealthServiceWithRegisterer(
			"identity-module",
			"test",
			"https://keycloak.kryukov.lan/realms/app/protocol/openid-connect/certs",
			15*time.Second,
			skipVerify,
			testLogger(),
			prometheus.NewRegistry(),
		)
		if err != nil {
			t.Fatalf("tlsSkipVerify=%v: %v", skipVerify, err)
		}
		if ds == nil {
			t.Fatalf("tlsSkipVerify=%v: сервис не создан", skipVerify)
		}
	}
}

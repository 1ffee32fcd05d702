// metrics.go — Prometheus метрики операций Identity Module.
// Регистрирует метрики: im_identity_operations_total, im_identity_operation_duration_seconds.
package identity

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Имена операций (значения лейбла operation).
const (
	OpCreateUser     = "create_user"
	OpSignIn         = "sign_in"
	OpSignOut        = "sign_out"
	OpSetNewPassword = "set_new_password"
)

var (
	// operationsTotal — количество операций по результату.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_identity_operations_total",
			Help: "Количество операций с Identity Provider по результату",
		},
		[]string{"operation", "result"},
	)

	// operationDuration — длительность операций, включая все HTTP-вызовы к IdP.
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "im_identity_operation_duration_seconds",
			Help:    "Длительность операций с Identity Provider в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// resultLabel сводит ошибку к ограниченному набору значений лейбла result.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrAmbiguousUser):
		return "ambiguous"
	default:
		return "failed"
	}
}

// observe записывает результат и длительность операции.
func observe(operation string, elapsed time.Duration, err error) {
	operationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
	operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

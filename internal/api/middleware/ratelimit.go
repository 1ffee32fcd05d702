// ratelimit.go — ограничение частоты запросов по клиенту (token bucket).
// Используется для sign-in: защищает Keycloak от перебора паролей.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/identity-module/internal/api/errors"
)

// limiterCleanupInterval — как часто удаляются простаивающие лимитеры.
const limiterCleanupInterval = 5 * time.Minute

// RateLimitConfig — параметры ограничения.
type RateLimitConfig struct {
	// RequestsPerWindow — количество запросов за окно.
	RequestsPerWindow int
	// Window — окно ограничения.
	Window time.Duration
	// Burst — допустимый всплеск.
	Burst int
}

// KeyExtractor извлекает ключ группировки запросов (IP, пользователь).
type KeyExtractor func(*http.Request) string

// IPKeyExtractor возвращает IP из RemoteAddr.
// Заголовки X-Forwarded-For и X-Real-IP задаёт клиент, поэтому здесь они игнорируются.
func IPKeyExtractor(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ProxyIPKeyExtractor возвращает IP клиента из X-Forwarded-For или X-Real-IP,
// иначе из RemoteAddr. Только за reverse proxy, который перезаписывает эти заголовки.
func ProxyIPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return IPKeyExtractor(r)
}

// RateLimiter — набор token bucket лимитеров по ключу.
type RateLimiter struct {
	cfg          RateLimitConfig
	keyExtractor KeyExtractor
	logger       *slog.Logger

	limiters sync.Map // map[string]*rate.Limiter
	limit    rate.Limit

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewRateLimiter создаёт лимитер. keyExtractor nil — ограничение по IP.
func NewRateLimiter(cfg RateLimitConfig, keyExtractor KeyExtractor, logger *slog.Logger) *RateLimiter {
	if keyExtractor == nil {
		keyExtractor = IPKeyExtractor
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	return &RateLimiter{
		cfg:          cfg,
		keyExtractor: keyExtractor,
		logger:       logger.With(slog.String("component", "rate_limiter")),
		limit:        rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		lastCleanup:  time.Now(),
	}
}

// getLimiter возвращает лимитер ключа, создавая его при необходимости.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	actual, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.limit, rl.cfg.Burst))
	rl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup удаляет лимитеры с полным bucket: ими давно не пользовались.
func (rl *RateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < limiterCleanupInterval {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.cfg.Burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// Middleware возвращает HTTP middleware. При превышении — 429 с Retry-After.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			limiter := rl.getLimiter(key)
			if !limiter.Allow() {
				// Время до следующего токена, без расходования резерва
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				rl.logger.Warn("Превышен лимит запросов",
					slog.String("key", key),
					slog.String("path", r.URL.Path),
					slog.Duration("retry_after", delay),
				)
				apierrors.RateLimited(w, delay, "Слишком много запросов, повторите позже")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Пакет server — HTTP-сервер Identity Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/identity-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/identity-module/internal/config"
)

// Таймауты HTTP-сервера.
const (
	readTimeout  = 15 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// Middleware — стандартная сигнатура HTTP middleware.
type Middleware = func(http.Handler) http.Handler

// Routes — middleware отдельных групп маршрутов.
type Routes struct {
	// Admin — аутентификация и проверка роли для административных endpoints.
	Admin []Middleware
	// SignIn — ограничение частоты попыток входа.
	SignIn []Middleware
}

// Server — HTTP-сервер Identity Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// middlewares — глобальные middleware (request id, logging, metrics),
// добавляются в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, routes Routes, middlewares ...Middleware) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(h, routes, middlewares...),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер Identity Module.
func NewRouter(h *handlers.APIHandler, routes Routes, middlewares ...Middleware) http.Handler {
	router := chi.NewRouter()

	// Применяем переданные middleware
	for _, mw := range middlewares {
		router.Use(mw)
	}

	// Health и метрики — без аутентификации
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		// Публичные endpoints входа и выхода
		r.With(routes.SignIn...).Post("/auth/sign-in", h.SignIn)
		r.Post("/auth/sign-out", h.SignOut)

		// Административные endpoints
		r.Group(func(r chi.Router) {
			r.Use(routes.Admin...)
			r.Post("/users", h.CreateUser)
			r.Put("/users/{username}/password", h.SetNewPassword)
			r.Get("/idp/sessions", h.GetIdpSessions)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

// Пакет identity — слой интеграции с Identity Provider (Keycloak).
// service.go — фасад: CreateUser, SignIn, SignOut, SetNewPassword.
// Привилегированные операции идут с admin token, вход и выход — с учётными
// данными пользователя и клиента. Ошибки IdP сводятся к таксономии из errors.go.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/identity-module/internal/keycloak"
)

// AdminAPI — привилегированные операции Admin REST API.
type AdminAPI interface {
	CreateUser(ctx context.Context, user keycloak.UserRepresentation) (string, error)
	FindUsersByUsername(ctx context.Context, username string) ([]keycloak.UserRepresentation, error)
	ResetPassword(ctx context.Context, userID string, credential keycloak.CredentialRepresentation) error
}

// UserAuthAPI — OIDC операции от имени пользователя.
type UserAuthAPI interface {
	PasswordGrant(ctx context.Context, username, password string) (*keycloak.TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
}

// AuthorizationResult — результат успешного входа.
type AuthorizationResult struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int // секунды
	RefreshExpiresIn int // секунды
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	Scope            string
}

// UserRecord — пользователь IdP. Не кэшируется.
type UserRecord struct {
	ID        string
	Username  string
	Enabled   bool
	CreatedAt time.Time
}

// Service — фасад интеграции с Identity Provider.
// Не хранит изменяемого состояния между вызовами, безопасен для конкурентного использования.
// Повторов и кэширования нет: каждая операция — ровно те HTTP-вызовы, что нужны.
type Service struct {
	admin  AdminAPI
	users  UserAuthAPI
	logger *slog.Logger
	now    func() time.Time
}

// NewService создаёт фасад. Обычно admin и users — один *keycloak.Client.
func NewService(admin AdminAPI, users UserAuthAPI, logger *slog.Logger) *Service {
	return &Service{
		admin:  admin,
		users:  users,
		logger: logger.With(slog.String("component", "identity_service")),
		now:    time.Now,
	}
}

// since — время от start по часам сервиса.
func (s *Service) since(start time.Time) time.Duration {
	return s.now().Sub(start)
}

// CreateUser создаёт включённого пользователя с постоянным паролем.
// Повторный вызов с тем же username завершается *UserCreationFailedError (IdP вернёт 409).
func (s *Service) CreateUser(ctx context.Context, username, password string) (err error) {
	start := s.now()
	defer func() { observe(OpCreateUser, s.since(start), err) }()

	if username == "" || password == "" {
		return fmt.Errorf("%w: username и password обязательны", ErrInvalidInput)
	}

	user := keycloak.UserRepresentation{
		Username:    username,
		Enabled:     true,
		Credentials: []keycloak.CredentialRepresentation{keycloak.PasswordCredential(password)},
	}

	id, err := s.admin.CreateUser(ctx, user)
	if err != nil {
		creationErr := &UserCreationFailedError{Cause: err}
		var statusErr *keycloak.StatusError
		if errors.As(err, &statusErr) {
			creationErr.Status = statusErr.StatusCode
			creationErr.Body = statusErr.Body
		}
		s.logger.Warn("Пользователь не создан",
			slog.String("username", username),
			slog.Int("status", creationErr.Status),
			slog.String("error", err.Error()),
		)
		return creationErr
	}

	s.logger.Info("Пользователь создан",
		slog.String("username", username),
		slog.String("user_id", id),
	)
	return nil
}

// SignIn выполняет вход по username/password (direct grant).
// На 401 от IdP возвращается ErrUnauthorized, на любой другой сбой *AuthenticationFailedError.
func (s *Service) SignIn(ctx context.Context, username, password string) (_ *AuthorizationResult, err error) {
	start := s.now()
	defer func() { observe(OpSignIn, s.since(start), err) }()

	// Пустые учётные данные заведомо неверны, IdP не вызывается
	if username == "" || password == "" {
		return nil, ErrUnauthorized
	}

	token, err := s.users.PasswordGrant(ctx, username, password)
	if err != nil {
		if code, ok := keycloak.StatusCode(err); ok && code == http.StatusUnauthorized {
			s.logger.Info("Неверные учётные данные", slog.String("username", username))
			return nil, ErrUnauthorized
		}
		attrs := []any{
			slog.String("username", username),
			slog.String("error", err.Error()),
		}
		var statusErr *keycloak.StatusError
		if errors.As(err, &statusErr) {
			attrs = append(attrs, slog.Int("status", statusErr.StatusCode))
			if oauthErr, ok := statusErr.OAuthError(); ok {
				attrs = append(attrs,
					slog.String("oauth_error", oauthErr.Error),
					slog.String("oauth_error_description", oauthErr.Description),
				)
			}
		}
		s.logger.Warn("Ошибка входа", attrs...)
		return nil, &AuthenticationFailedError{Cause: err}
	}

	issuedAt := s.now()
	result := &AuthorizationResult{
		AccessToken:      token.AccessToken,
		RefreshToken:     token.RefreshToken,
		TokenType:        token.TokenType,
		ExpiresIn:        token.ExpiresIn,
		RefreshExpiresIn: token.RefreshExpiresIn,
		ExpiresAt:        issuedAt.Add(time.Duration(token.ExpiresIn) * time.Second),
		Scope:            token.Scope,
	}
	// refresh_expires_in == 0 — offline token без срока
	if token.RefreshExpiresIn > 0 {
		result.RefreshExpiresAt = issuedAt.Add(time.Duration(token.RefreshExpiresIn) * time.Second)
	}

	s.logger.Debug("Пользователь вошёл",
		slog.String("username", username),
		slog.Time("expires_at", result.ExpiresAt),
	)
	return result, nil
}

// SignOut завершает сессию по refresh token. Успех — только 204 от IdP.
// Повторный вызов с тем же токеном завершается *LogoutFailedError.
func (s *Service) SignOut(ctx context.Context, refreshToken string) (err error) {
	start := s.now()
	defer func() { observe(OpSignOut, s.since(start), err) }()

	if refreshToken == "" {
		return fmt.Errorf("%w: refresh token обязателен", ErrInvalidInput)
	}

	if err := s.users.Logout(ctx, refreshToken); err != nil {
		status, _ := keycloak.StatusCode(err)
		s.logger.Warn("Logout не выполнен",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return &LogoutFailedError{Status: status, Cause: err}
	}

	s.logger.Debug("Сессия завершена")
	return nil
}

// SetNewPassword заменяет пароль пользователя на постоянный.
// Поиск по точному username: 0 совпадений — *UserNotFoundError,
// больше одного дают *AmbiguousUserError. Сбой поиска или замены даёт *PasswordResetFailedError
// (в том числе 404, если пользователь удалён между поиском и заменой).
func (s *Service) SetNewPassword(ctx context.Context, username, newPassword string) (err error) {
	start := s.now()
	defer func() { observe(OpSetNewPassword, s.since(start), err) }()

	if username == "" || newPassword == "" {
		return fmt.Errorf("%w: username и password обязательны", ErrInvalidInput)
	}

	user, err := s.findUser(ctx, username)
	if err != nil {
		return err
	}

	if err := s.admin.ResetPassword(ctx, user.ID, keycloak.PasswordCredential(newPassword)); err != nil {
		status, _ := keycloak.StatusCode(err)
		s.logger.Warn("Пароль не заменён",
			slog.String("username", username),
			slog.String("user_id", user.ID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return &PasswordResetFailedError{Status: status, Cause: err}
	}

	s.logger.Info("Пароль заменён",
		slog.String("username", username),
		slog.String("user_id", user.ID),
	)
	return nil
}

// findUser выполняет точный поиск и требует ровно одно совпадение.
func (s *Service) findUser(ctx context.Context, username string) (*UserRecord, error) {
	users, err := s.admin.FindUsersByUsername(ctx, username)
	if err != nil {
		status, _ := keycloak.StatusCode(err)
		s.logger.Warn("Ошибка поиска пользователя",
			slog.String("username", username),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return nil, &PasswordResetFailedError{Status: status, Cause: err}
	}

	switch len(users) {
	case 0:
		return nil, &UserNotFoundError{Username: username}
	case 1:
		return &UserRecord{
			ID:        users[0].ID,
			Username:  users[0].Username,
			Enabled:   users[0].Enabled,
			CreatedAt: users[0].CreatedAtTime(),
		}, nil
	default:
		s.logger.Error("Точный поиск вернул несколько пользователей",
			slog.String("username", username),
			slog.Int("count", len(users)),
		)
		return nil, &AmbiguousUserError{Username: username, Count: len(users)}
	}
}

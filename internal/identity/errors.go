// errors.go — таксономия ошибок слоя интеграции с Identity Provider.
// Каждая типизированная ошибка совпадает через errors.Is с sentinel своего вида
// и раскрывает причину через Unwrap.
package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized — неверные учётные данные пользователя (401 от IdP).
	ErrUnauthorized = errors.New("неверные учётные данные")
	// ErrInvalidInput — пустые или некорректные входные данные, запрос к IdP не выполнялся.
	ErrInvalidInput = errors.New("некорректные входные данные")

	// ErrAuthenticationFailed — вход не выполнен по причине, отличной от неверных учётных данных.
	ErrAuthenticationFailed = errors.New("аутентификация не выполнена")
	// ErrUserCreationFailed — IdP не создал пользователя.
	ErrUserCreationFailed = errors.New("пользователь не создан")
	// ErrUserNotFound — пользователь не найден.
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrAmbiguousUser — точный поиск вернул больше одного пользователя.
	ErrAmbiguousUser = errors.New("неоднозначный username")
	// ErrPasswordResetFailed — пароль не заменён.
	ErrPasswordResetFailed = errors.New("пароль не заменён")
	// ErrLogoutFailed — сессия не завершена.
	ErrLogoutFailed = errors.New("logout не выполнен")
)

// AuthenticationFailedError — сбой входа: сеть, таймаут, битый ответ, статус кроме 401.
type AuthenticationFailedError struct {
	Cause error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrAuthenticationFailed, e.Cause)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.Cause }

func (e *AuthenticationFailedError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// UserCreationFailedError — IdP ответил не 201 Created.
// Status == 0 означает, что ответ не получен (Cause содержит причину).
type UserCreationFailedError struct {
	Status int
	Body   string
	Cause  error
}

func (e *UserCreationFailedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%v: %v", ErrUserCreationFailed, e.Cause)
	}
	if e.Body == "" {
		return fmt.Sprintf("%v: статус %d", ErrUserCreationFailed, e.Status)
	}
	return fmt.Sprintf("%v: статус %d: %s", ErrUserCreationFailed, e.Status, e.Body)
}

func (e *UserCreationFailedError) Unwrap() error { return e.Cause }

func (e *UserCreationFailedError) Is(target error) bool {
	return target == ErrUserCreationFailed
}

// UserNotFoundError — точный поиск по username не дал результатов.
type UserNotFoundError struct {
	Username string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUserNotFound, e.Username)
}

func (e *UserNotFoundError) Is(target error) bool {
	return target == ErrUserNotFound
}

// AmbiguousUserError — точный поиск вернул несколько пользователей.
type AmbiguousUserError struct {
	Username string
	Count    int
}

func (e *AmbiguousUserError) Error() string {
	return fmt.Sprintf("%v: %s (найдено %d)", ErrAmbiguousUser, e.Username, e.Count)
}

func (e *AmbiguousUserError) Is(target error) bool {
	return target == ErrAmbiguousUser
}

// PasswordResetFailedError — сбой поиска пользователя или замены пароля.
// Status == 0 означает, что ответ не получен.
type PasswordResetFailedError struct {
	Status int
	Cause  error
}

func (e *PasswordResetFailedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%v: %v", ErrPasswordResetFailed, e.Cause)
	}
	return fmt.Sprintf("%v: статус %d", ErrPasswordResetFailed, e.Status)
}

func (e *PasswordResetFailedError) Unwrap() error { return e.Cause }

func (e *PasswordResetFailedError) Is(target error) bool {
	return target == ErrPasswordResetFailed
}

// LogoutFailedError — logout endpoint ответил не 204 No Content.
// Status == 0 означает, что ответ не получен.
type LogoutFailedError struct {
	Status int
	Cause  error
}

func (e *LogoutFailedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%v: %v", ErrLogoutFailed, e.Cause)
	}
	return fmt.Sprintf("%v: статус %d", ErrLogoutFailed, e.Status)
}

func (e *LogoutFailedError) Unwrap() error { return e.Cause }

func (e *LogoutFailedError) Is(target error) bool {
	return target == ErrLogoutFailed
}

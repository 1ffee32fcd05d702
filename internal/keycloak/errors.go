// errors.go — типизированные ошибки HTTP-уровня Keycloak.
// Статус-код передаётся явно, без разбора цепочки причин.
package keycloak

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody — сколько байт тела ответа сохраняется в ошибке.
const maxErrorBody = 64 << 10

// ErrMalformedResponse — ответ Keycloak не удалось разобрать.
var ErrMalformedResponse = errors.New("некорректный ответ Keycloak")

// StatusError — Keycloak вернул неожиданный HTTP-статус.
type StatusError struct {
	// Op — операция клиента (CreateUser, PasswordGrant, ...).
	Op string
	// StatusCode — фактический HTTP-статус.
	StatusCode int
	// Body — тело ответа (усечённое до maxErrorBody).
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: Keycloak вернул статус %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: Keycloak вернул статус %d: %s", e.Op, e.StatusCode, e.Body)
}

// OAuthError возвращает разобранное тело OAuth2-ошибки, если оно есть.
func (e *StatusError) OAuthError() (*TokenError, bool) {
	var tokenErr TokenError
	if err := json.Unmarshal([]byte(e.Body), &tokenErr); err != nil || tokenErr.Error == "" {
		return nil, false
	}
	return &tokenErr, true
}

// StatusCode извлекает HTTP-статус из ошибки клиента.
// Возвращает false, если ошибка не связана со статусом (сеть, таймаут).
func StatusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

// newStatusError читает тело ответа и формирует StatusError.
func newStatusError(op string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// closeBody дочитывает и закрывает тело ответа,
// чтобы соединение вернулось в пул.
func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CreateUser создаёт пользователя в пользовательском realm.
// Успех — только 201 Created. Возвращает Keycloak ID из Location header
// (пустая строка, если заголовок отсутствует).
func (c *Client) CreateUser(ctx context.Context, user UserRepresentation) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/users", user)
	if err != nil {
		return "", fmt.Errorf("CreateUser: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusCreated {
		return "", newStatusError("CreateUser", resp)
	}

	// Location: .../users/{id}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", nil
	}
	return location[strings.LastIndex(location, "/")+1:], nil
}

// FindUsersByUsername ищет пользователей по точному совпадению username.
// Результат не кэшируется.
func (c *Client) FindUsersByUsername(ctx context.Context, username string) ([]UserRepresentation, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := url.Values{
		"username": {username},
		"exact":    {"true"},
	}

	resp, err := c.doAuthorized(ctx, http.MethodGet, "/users?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("FindUsersByUsername: %w", err)
	}

	var users []UserRepresentation
	if err := decodeResponse("FindUsersByUsername", resp, &users); err != nil {
		return nil, err
	}

	return users, nil
}

// ResetPassword заменяет пароль пользователя. Успех — только 204 No Content.
func (c *Client) ResetPassword(ctx context.Context, userID string, credential CredentialRepresentation) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.doAuthorized(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/reset-password", credential)
	if err != nil {
		return fmt.Errorf("ResetPassword: %w", err)
	}

	return checkResponse("ResetPassword", resp, http.StatusNoContent)
}

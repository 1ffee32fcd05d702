package identity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/goartstore/identity-module/internal/keycloak"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const (
	fakeAdminToken   = "fake-admin-token"
	fakeClientID     = "app-client"
	fakeClientSecret = "app-secret"
)

// fakeUser — пользователь в памяти fake Keycloak.
type fakeUser struct {
	id       string
	username string
	password string
}

// fakeKeycloak — минимальная модель Keycloak в памяти:
// пользователи, сессии по refresh token, Admin API с проверкой admin token.
type fakeKeycloak struct {
	t *testing.T

	mu       sync.Mutex
	users    map[string]*fakeUser // по id
	sessions map[string]string    // refresh token -> user id
	nextID   int

	// duplicates — сколько лишних совпадений добавлять к точному поиску.
	duplicates int
	// deleteBeforeReset — удалить пользователя перед reset-password.
	deleteBeforeReset bool
	// tokenStatus — если не 0, token endpoint отвечает этим статусом.
	tokenStatus int
	// searchStatus — если не 0, поиск пользователей отвечает этим статусом.
	searchStatus int
}

// newFakeKeycloak запускает fake Keycloak и возвращает его с клиентом.
func newFakeKeycloak(t *testing.T) (*fakeKeycloak, *keycloak.Client) {
	t.Helper()

	f := &fakeKeycloak{
		t:        t,
		users:    make(map[string]*fakeUser),
		sessions: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", f.handleAdminToken)
	mux.HandleFunc("POST /realms/app/protocol/openid-connect/token", f.handleUserToken)
	mux.HandleFunc("POST /realms/app/protocol/openid-connect/logout", f.handleLogout)
	mux.HandleFunc("POST /admin/realms/app/users", f.admin(f.handleCreateUser))
	mux.HandleFunc("GET /admin/realms/app/users", f.admin(f.handleSearchUsers))
	mux.HandleFunc("PUT /admin/realms/app/users/{id}/reset-password", f.admin(f.handleResetPassword))
	mux.HandleFunc("GET /admin/realms/app/client-session-stats", f.admin(f.handleSessionStats))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := keycloak.Config{
		BaseURL:          server.URL,
		AdminRealm:       "master",
		AdminUsername:    "admin",
		AdminPassword:    "admin",
		AdminClientID:    "admin-cli",
		UserRealm:        "app",
		UserClientID:     fakeClientID,
		UserClientSecret: fakeClientSecret,
		Timeout:          2 * time.Second,
	}
	session := keycloak.NewAdminSession(cfg, server.Client(), testLogger())
	return f, keycloak.New(cfg, session, server.Client(), testLogger())
}

func (f *fakeKeycloak) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// admin проверяет admin token перед обработкой запроса Admin API.
func (f *fakeKeycloak) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fakeAdminToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeKeycloak) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "admin" {
		f.writeJSON(w, http.StatusUnauthorized, keycloak.TokenError{Error: "invalid_grant"})
		return
	}
	f.writeJSON(w, http.StatusOK, keycloak.TokenResponse{AccessToken: fakeAdminToken, ExpiresIn: 60})
}

func (f *fakeKeycloak) handleUserToken(w http.ResponseWriter, r *http.Request) {
	if f.tokenStatus != 0 {
		w.WriteHeader(f.tokenStatus)
		return
	}

	_ = r.ParseForm()
	if r.PostForm.Get("client_id") != fakeClientID || r.PostForm.Get("client_secret") != fakeClientSecret {
		f.writeJSON(w, http.StatusUnauthorized, keycloak.TokenError{Error: "unauthorized_client"})
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		f.writeJSON(w, http.StatusBadRequest, keycloak.TokenError{Error: "unsupported_grant_type"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	user := f.byUsername(r.PostForm.Get("username"))
	if user == nil || user.password != r.PostForm.Get("password") {
		f.writeJSON(w, http.StatusUnauthorized, keycloak.TokenError{
			Error:       "invalid_grant",
			Description: "Invalid user credentials",
		})
		return
	}

	f.nextID++
	refresh := fmt.Sprintf("refresh-%d", f.nextID)
	f.sessions[refresh] = user.id

	f.writeJSON(w, http.StatusOK, keycloak.TokenResponse{
		AccessToken:      f.signAccessToken(user),
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        300,
		RefreshExpiresIn: 1800,
		Scope:            "profile email",
	})
}

// signAccessToken выпускает JWT с claims, как у Keycloak.
func (f *fakeKeycloak) signAccessToken(user *fakeUser) string {
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.id,
			Issuer:    "http://fake/realms/app",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		PreferredUsername: user.username,
		Type:              "Bearer",
		AuthorizedParty:   fakeClientID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("fake-key"))
	if err != nil {
		f.t.Fatalf("подпись токена: %v", err)
	}
	return signed
}

func (f *fakeKeycloak) handleLogout(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	f.mu.Lock()
	defer f.mu.Unlock()

	refresh := r.PostForm.Get("refresh_token")
	if _, ok := f.sessions[refresh]; !ok {
		f.writeJSON(w, http.StatusBadRequest, keycloak.TokenError{
			Error:       "invalid_grant",
			Description: "Session not active",
		})
		return
	}
	delete(f.sessions, refresh)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var rep keycloak.UserRepresentation
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.byUsername(rep.Username) != nil {
		f.writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
		return
	}

	user := &fakeUser{username: strings.ToLower(rep.Username)}
	for _, cred := range rep.Credentials {
		if cred.Type == keycloak.CredentialTypePassword {
			user.password = cred.Value
		}
	}
	f.nextID++
	user.id = fmt.Sprintf("user-%d", f.nextID)
	f.users[user.id] = user

	w.Header().Set("Location", "http://"+r.Host+"/admin/realms/app/users/"+user.id)
	w.WriteHeader(http.StatusCreated)
}

func (f *fakeKeycloak) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	if f.searchStatus != 0 {
		w.WriteHeader(f.searchStatus)
		return
	}
	if r.URL.Query().Get("exact") != "true" {
		f.t.Errorf("поиск без exact=true: %s", r.URL.RawQuery)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	result := []keycloak.UserRepresentation{}
	if user := f.byUsername(r.URL.Query().Get("username")); user != nil {
		result = append(result, keycloak.UserRepresentation{ID: user.id, Username: user.username, Enabled: true})
		for i := range f.duplicates {
			result = append(result, keycloak.UserRepresentation{
				ID:       fmt.Sprintf("%s-dup-%d", user.id, i),
				Username: user.username,
				Enabled:  true,
			})
		}
		if f.deleteBeforeReset {
			delete(f.users, user.id)
		}
	}
	f.writeJSON(w, http.StatusOK, result)
}

func (f *fakeKeycloak) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var cred keycloak.CredentialRepresentation
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil || cred.Type != "password" || cred.Temporary {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[r.PathValue("id")]
	if !ok {
		f.writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	user.password = cred.Value
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeKeycloak) handleSessionStats(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	active := len(f.sessions)
	f.mu.Unlock()

	if active == 0 {
		f.writeJSON(w, http.StatusOK, []any{})
		return
	}
	f.writeJSON(w, http.StatusOK, []map[string]string{{
		"id":       "c-1",
		"clientId": fakeClientID,
		"active":   fmt.Sprint(active),
		"offline":  "0",
	}})
}

// byUsername ищет пользователя без учёта регистра. Вызывать под f.mu.
func (f *fakeKeycloak) byUsername(username string) *fakeUser {
	for _, u := range f.users {
		if strings.EqualFold(u.username, username) {
			return u
		}
	}
	return nil
}

// addUser создаёт пользователя напрямую, минуя Admin API.
func (f *fakeKeycloak) addUser(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("user-%d", f.nextID)
	f.users[id] = &fakeUser{id: id, username: username, password: password}
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/authflow/backend/internal/model"
	"github.com/authflow/backend/internal/service"
	"github.com/authflow/backend/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type issuerParser struct {
	issuer *token.Issuer
}

func (p issuerParser) ParseAccessToken(tokenStr string) (*model.AuthUser, error) {
	claims, err := p.issuer.VerifyAccess(tokenStr)
	if err != nil {
		return nil, err
	}
	return &model.AuthUser{ID: claims.Subject, Email: claims.Email}, nil
}

type stubAuthService struct {
	signUp  func(ctx context.Context, email, password, name string) (*model.Session, error)
	signIn  func(ctx context.Context, email, password string) (*model.Session, error)
	refresh func(ctx context.Context, refreshToken string) (model.TokenPair, error)
	logout  func(ctx context.Context, userID string) error
	profile func(ctx context.Context, userID string) (model.PublicUser, error)
}

func (s *stubAuthService) SignUp(ctx context.Context, email, password, name string) (*model.Session, error) {
	return s.signUp(ctx, email, password, name)
}

func (s *stubAuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	return s.signIn(ctx, email, password)
}

func (s *stubAuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	return s.refresh(ctx, refreshToken)
}

func (s *stubAuthService) Logout(ctx context.Context, userID string) error {
	return s.logout(ctx, userID)
}

func (s *stubAuthService) Profile(ctx context.Context, userID string) (model.PublicUser, error) {
	return s.profile(ctx, userID)
}

type testEnv struct {
	router *gin.Engine
	issuer *token.Issuer
	now    time.Time
}

func newTestEnv(t *testing.T, svc AuthService) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Now()}
	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte("at-secret"),
		RefreshSecret: []byte("rt-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		Now:           func() time.Time { return env.now },
	})
	require.NoError(t, err)
	env.issuer = issuer
	env.router = NewRouter(RouterConfig{
		Auth:   NewAuthHandler(svc, nil),
		Tokens: issuerParser{issuer: issuer},
	})
	return env
}

func (e *testEnv) accessToken(t *testing.T, id string) string {
	t.Helper()
	pair, err := e.issuer.Issue(token.Subject{ID: id, Email: id + "@example.com"})
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *testEnv) do(method, path, body, bearer string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGateway(t *testing.T) {
	env := newTestEnv(t, &stubAuthService{
		profile: func(ctx context.Context, userID string) (model.PublicUser, error) {
			user, ok := AuthUserFromContext(ctx)
			require.True(t, ok)
			assert.Equal(t, userID, user.ID)
			return model.PublicUser{ID: userID}, nil
		},
	})

	valid := env.accessToken(t, "u-1")
	refreshOnly, err := env.issuer.Issue(token.Subject{ID: "u-1", Email: "u-1@example.com"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		want   int
	}{
		{"public ping", http.MethodGet, "/ping", "", http.StatusOK},
		{"public root", http.MethodGet, "/", "", http.StatusOK},
		{"protected without token", http.MethodGet, "/auth/me", "", http.StatusUnauthorized},
		{"protected with garbage", http.MethodGet, "/auth/me", "not-a-jwt", http.StatusUnauthorized},
		{"refresh token as access", http.MethodGet, "/auth/me", refreshOnly.RefreshToken, http.StatusUnauthorized},
		{"protected with valid token", http.MethodGet, "/auth/me", valid, http.StatusOK},
		{"unknown route is denied", http.MethodGet, "/admin", "", http.StatusUnauthorized},
		{"allow-list is per method", http.MethodGet, "/auth/login", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.method, tt.path, "", tt.bearer)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				resp := decodeError(t, w)
				assert.False(t, resp.Success)
				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
				assert.Equal(t, "unauthorized", resp.Message)
			}
		})
	}
}

func TestGateway_ExpiredAccessToken(t *testing.T) {
	env := newTestEnv(t, &stubAuthService{})
	expired := env.accessToken(t, "u-1")
	env.now = env.now.Add(16 * time.Minute)

	w := env.do(http.MethodGet, "/auth/me", "", expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateway_PreflightPasses(t *testing.T) {
	env := newTestEnv(t, &stubAuthService{})
	w := env.do(http.MethodOptions, "/auth/me", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGateway_IsPublic(t *testing.T) {
	gw := NewGateway(nil, []string{"post /auth/login", "malformed", " GET /ping "}, nil)
	assert.True(t, gw.IsPublic(http.MethodPost, "/auth/login"))
	assert.True(t, gw.IsPublic(http.MethodGet, "/ping"))
	assert.False(t, gw.IsPublic(http.MethodGet, "/auth/login"))
	assert.False(t, gw.IsPublic(http.MethodGet, ""))
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, &stubAuthService{
		signUp: func(ctx context.Context, email, password, name string) (*model.Session, error) {
			if email == "taken@example.com" {
				return nil, service.ErrConflict
			}
			if len(password) < 8 {
				return nil, service.ErrInvalidInput
			}
			return &model.Session{User: model.PublicUser{ID: "u-1", Email: email}}, nil
		},
	})

	w := env.do(http.MethodPost, "/auth/register", `{"email":"a@example.com","password":"correct-horse","name":"Alice"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.NotContains(t, w.Body.String(), "accessToken")

	w = env.do(http.MethodPost, "/auth/register", `{"email":"taken@example.com","password":"correct-horse","name":"Alice"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, http.StatusConflict, decodeError(t, w).StatusCode)

	w = env.do(http.MethodPost, "/auth/register", `{"email":"a@example.com","password":"short","name":"Alice"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/auth/register", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin(t *testing.T) {
	expiry := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	env := newTestEnv(t, &stubAuthService{
		signIn: func(ctx context.Context, email, password string) (*model.Session, error) {
			if password != "correct-horse" {
				return nil, service.ErrInvalidCredentials
			}
			return &model.Session{
				User:   model.PublicUser{ID: "u-1", Email: email},
				Tokens: model.TokenPair{AccessToken: "at", RefreshToken: "rt", AtExpiry: expiry},
			}, nil
		},
	})

	w := env.do(http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"correct-horse"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "at", resp.Data.AccessToken)
	assert.Equal(t, "rt", resp.Data.RefreshToken)
	assert.True(t, expiry.Equal(resp.Data.AtExpiry))
	assert.Equal(t, model.UserRef{ID: "u-1", Email: "a@example.com"}, resp.Data.User)

	w = env.do(http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid credentials", decodeError(t, w).Message)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, &stubAuthService{
		refresh: func(ctx context.Context, refreshToken string) (model.TokenPair, error) {
			switch refreshToken {
			case "good":
				return model.TokenPair{AccessToken: "at2", RefreshToken: "rt2"}, nil
			case "boom":
				return model.TokenPair{}, errors.New("redis down")
			}
			return model.TokenPair{}, service.ErrUnauthorized
		},
	})

	w := env.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"good"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.RefreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "at2", resp.Data.AccessToken)
	assert.Equal(t, "rt2", resp.Data.RefreshToken)

	w = env.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"reused"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/auth/refresh", `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"boom"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp500 := decodeError(t, w)
	assert.Equal(t, "server error", resp500.Message)
	assert.NotContains(t, w.Body.String(), "redis")
}

func TestLogoutAndMe(t *testing.T) {
	var loggedOut string
	env := newTestEnv(t, &stubAuthService{
		logout: func(ctx context.Context, userID string) error {
			loggedOut = userID
			return nil
		},
		profile: func(ctx context.Context, userID string) (model.PublicUser, error) {
			return model.PublicUser{ID: userID, Email: "a@example.com", Name: "Alice"}, nil
		},
	})
	at := env.accessToken(t, "u-7")

	w := env.do(http.MethodGet, "/auth/me", "", at)
	require.Equal(t, http.StatusOK, w.Code)
	var me model.MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "u-7", me.Data.ID)
	assert.Equal(t, "Alice", me.Data.Name)

	w = env.do(http.MethodPost, "/auth/logout", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, loggedOut)

	w = env.do(http.MethodPost, "/auth/logout", "", at)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-7", loggedOut)
}

func TestOpenAPIDoc(t *testing.T) {
	env := newTestEnv(t, &stubAuthService{})
	w := env.do(http.MethodGet, "/openapi.json", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/auth/refresh")
	assert.Contains(t, paths, "/auth/login")
}

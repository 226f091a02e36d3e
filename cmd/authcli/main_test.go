package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/authflow/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req model.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "s3cret-pass", req.Password)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(model.MessageResponse{Success: true, Message: "user registered"})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.LoginResponse{Success: true, Data: model.LoginData{
			AccessToken:  "at",
			RefreshToken: "rt",
			User:         model.UserRef{ID: "u-1", Email: "alice@example.com"},
		}})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(model.MeResponse{Success: true, Data: model.PublicUser{
			ID: "u-1", Email: "alice@example.com", Name: "Alice",
		}})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.MessageResponse{Success: true, Message: "logged out"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	prevLogger := slog.Default()
	prevRead := readPassword
	t.Cleanup(func() {
		slog.SetDefault(prevLogger)
		readPassword = prevRead
	})
	readPassword = func() ([]byte, error) { return []byte("s3cret-pass"), nil }

	srv := fakeAPI(t)
	store := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	exec := func(cmd, stdin string) (string, error) {
		var out, errOut bytes.Buffer
		err := run(ctx, []string{"-server", srv.URL, "-store", store, cmd}, strings.NewReader(stdin), &out, &errOut)
		return out.String(), err
	}

	out, err := exec("register", "alice@example.com\nAlice\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered")

	out, err = exec("login", "alice@example.com\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as alice@example.com")

	out, err = exec("me", "")
	require.NoError(t, err)
	assert.Contains(t, out, "name:  Alice")

	out, err = exec("logout", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")

	// The session is gone, so the server rejects the tokenless request.
	_, err = exec("me", "")
	assert.ErrorContains(t, err, "401")

	_, err = exec("bogus", "")
	assert.ErrorContains(t, err, "unknown command")
}

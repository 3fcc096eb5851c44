package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashKey(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestOperatorAuth_Authorize(t *testing.T) {
	auth := NewOperatorAuth([]string{
		hashKey(t, "alpha-key"),
		hashKey(t, "beta-key"),
	}, nil)

	assert.True(t, auth.Enabled())
	assert.True(t, auth.Authorize("alpha-key"))
	assert.True(t, auth.Authorize("beta-key"))
	assert.False(t, auth.Authorize("gamma-key"))
	assert.False(t, auth.Authorize(""))
}

func TestOperatorAuth_DropsMalformedHashes(t *testing.T) {
	auth := NewOperatorAuth([]string{"not-a-bcrypt-hash", "", "  "}, nil)
	assert.False(t, auth.Enabled())
}

func TestOperatorAuth_Middleware(t *testing.T) {
	auth := NewOperatorAuth([]string{hashKey(t, "operator-key")}, nil)

	var called bool
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	// Header key.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set(OperatorKeyHeader, "operator-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)

	// Bearer token works too.
	called = false
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer operator-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)

	// Wrong key is rejected before the handler runs.
	called = false
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set(OperatorKeyHeader, "stolen-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestOperatorAuth_MiddlewareRefusesWhenDisabled(t *testing.T) {
	auth := NewOperatorAuth(nil, nil)

	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without configured keys")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set(OperatorKeyHeader, "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

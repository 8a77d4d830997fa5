package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestParseAPIKeys(t *testing.T) {
	hash, err := HashAPIKey("k1", bcrypt.MinCost)
	require.NoError(t, err)

	keys, err := ParseAPIKeys(" glific:" + hash + ", ,ops:" + hash)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "glific", keys[0].Name)
	assert.Equal(t, "ops", keys[1].Name)

	keys, err = ParseAPIKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = ParseAPIKeys("noseparator")
	assert.Error(t, err)

	_, err = ParseAPIKeys("name:plaintext")
	assert.Error(t, err)
}

func TestHashAPIKey_Empty(t *testing.T) {
	_, err := HashAPIKey("", bcrypt.MinCost)
	assert.Error(t, err)
}

func TestAPIKeyAuth_Middleware(t *testing.T) {
	hash, err := HashAPIKey("k1", bcrypt.MinCost)
	require.NoError(t, err)
	auth := NewAPIKeyAuth("", []APIKey{{Name: "glific", Hash: []byte(hash)}})
	require.True(t, auth.Enabled())

	var caller string
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = CallerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "glific", caller)

	// Second call is served from the verified set.
	name, ok := auth.Authenticate("k1")
	assert.True(t, ok)
	assert.Equal(t, "glific", name)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
}

func TestCallerFromContext_Unset(t *testing.T) {
	assert.Empty(t, CallerFromContext(context.Background()))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "h")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "h"}, order)
}

func TestRequestSizeLimit(t *testing.T) {
	h := RequestSizeLimitMiddleware(4)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

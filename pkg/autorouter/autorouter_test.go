package autorouter

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/geotrack/pkg/logger"
)

type sampleHandler struct {
	name string
}

func (h *sampleHandler) Start(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "started by %s", h.name)
}

func (h *sampleHandler) Status(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "status from %s", h.name)
}

func (h *sampleHandler) Fail(w http.ResponseWriter, r *http.Request) error {
	return errors.New("boom")
}

// HandleLegacy is wired by hand, never by the router
func (h *sampleHandler) HandleLegacy(w http.ResponseWriter, r *http.Request) {}

func (h *sampleHandler) NotAHandler() string { return "nope" }

func (h *sampleHandler) WrongResult(w http.ResponseWriter, r *http.Request) int { return 0 }

func serve(mux *http.ServeMux, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestRouter_Register(t *testing.T) {
	mux := http.NewServeMux()
	router := New(mux, Options{Prefix: "/api/v1/", MethodPrefix: "tracking."}, logger.NewNop())

	require.NoError(t, router.Register(&sampleHandler{name: "test"}))

	w := serve(mux, "/api/v1/tracking.Start", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "started by test", w.Body.String())

	w = serve(mux, "/api/v1/tracking.Status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(mux, "/api/v1/tracking.HandleLegacy", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var names []string
	for _, r := range router.Routes() {
		names = append(names, r.MethodName)
		assert.False(t, r.Guarded)
	}
	assert.Equal(t, []string{"Fail", "Start", "Status"}, names)
}

func TestRouter_LowercasePathsWithoutMethodPrefix(t *testing.T) {
	mux := http.NewServeMux()
	router := New(mux, Options{Prefix: "/"}, logger.NewNop())
	require.NoError(t, router.Register(&sampleHandler{name: "plain"}))

	w := serve(mux, "/status", nil)
	assert.Equal(t, "status from plain", w.Body.String())
}

func TestRouter_ErrorResult(t *testing.T) {
	t.Run("should default to a 500", func(t *testing.T) {
		mux := http.NewServeMux()
		require.NoError(t, New(mux, Options{Prefix: "/"}, logger.NewNop()).Register(&sampleHandler{}))

		w := serve(mux, "/fail", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "boom")
	})

	t.Run("should use the configured error handler", func(t *testing.T) {
		var got error
		mux := http.NewServeMux()
		router := New(mux, Options{
			Prefix: "/",
			OnError: func(w http.ResponseWriter, r *http.Request, err error) {
				got = err
				w.WriteHeader(http.StatusTeapot)
			},
		}, logger.NewNop())
		require.NoError(t, router.Register(&sampleHandler{}))

		w := serve(mux, "/fail", nil)
		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.EqualError(t, got, "boom")
	})
}

func TestRouter_MiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	mux := http.NewServeMux()
	router := New(mux, Options{Prefix: "/", Middleware: []Middleware{tag("outer")}}, logger.NewNop())
	require.NoError(t, router.RegisterGuarded(&sampleHandler{}, tag("guard")))

	serve(mux, "/status", nil)
	assert.Equal(t, []string{"outer", "guard"}, order)
}

func TestRouter_RegisterGuarded(t *testing.T) {
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()
	router := New(mux, Options{Prefix: "/api/v1/", MethodPrefix: "tracking."}, logger.NewNop())
	require.NoError(t, router.RegisterGuarded(&sampleHandler{name: "auth"}, guard))

	w := serve(mux, "/api/v1/tracking.Status", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(mux, "/api/v1/tracking.Status", http.Header{"Authorization": {"Bearer test-token"}})
	assert.Equal(t, http.StatusOK, w.Code)

	for _, r := range router.Routes() {
		assert.True(t, r.Guarded, r.Path)
	}
}

func TestRouter_RejectsNonStruct(t *testing.T) {
	router := New(http.NewServeMux(), Options{}, logger.NewNop())

	assert.Error(t, router.Register(nil))
	assert.Error(t, router.Register(func() {}))
}

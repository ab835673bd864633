package routing_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/registration"
	"github.com/km-arc/go-ioc/framework/routing"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func newRouter(t *testing.T) (*routing.Router, *container.Container) {
	t.Helper()
	c := container.New()
	t.Cleanup(func() { _ = c.Dispose() })
	return routing.New(c, nil), c
}

func do(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// requestState is disposed with the request scope.
type requestState struct {
	closed bool
}

func (s *requestState) Close() error {
	s.closed = true
	return nil
}

type userHandler struct {
	State *requestState `ioc:""`
}

var controllerStates []*requestState

type stateController struct {
	stubController
	State *requestState `ioc:""`
}

func (s *stateController) Index(w http.ResponseWriter, r *http.Request) {
	controllerStates = append(controllerStates, s.State)
	w.WriteHeader(http.StatusOK)
}

func (s *stateController) Show(w http.ResponseWriter, r *http.Request) {
	controllerStates = append(controllerStates, s.State)
	w.WriteHeader(http.StatusOK)
}

// ── HTTP verbs ────────────────────────────────────────────────────────────────

func TestRouter_Verbs(t *testing.T) {
	r, _ := newRouter(t)
	r.Get("/hello", okHandler)
	r.Post("/users", okHandler)
	r.Put("/users/{id}", okHandler)
	r.Patch("/users/{id}", okHandler)
	r.Delete("/users/{id}", okHandler)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/hello"},
		{http.MethodPost, "/users"},
		{http.MethodPut, "/users/1"},
		{http.MethodPatch, "/users/1"},
		{http.MethodDelete, "/users/1"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, do(t, r, tt.method, tt.path).Code)
		})
	}
}

func TestRouter_Any(t *testing.T) {
	r, _ := newRouter(t)
	r.Any("/ping", okHandler)

	for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		assert.Equal(t, http.StatusOK, do(t, r, method, "/ping").Code, method)
	}
}

func TestRouter_NotFound(t *testing.T) {
	r, _ := newRouter(t)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/not-registered").Code)
}

// ── Route params ─────────────────────────────────────────────────────────────

func TestRouter_Param(t *testing.T) {
	r, _ := newRouter(t)
	r.Get("/users/{id}", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(routing.Param(req, "id")))
	})

	rr := do(t, r, http.MethodGet, "/users/42")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "42", rr.Body.String())
}

// ── Prefix / Group ───────────────────────────────────────────────────────────

func TestRouter_Prefix(t *testing.T) {
	r, _ := newRouter(t)
	r.Prefix("/api/v1", func(api *routing.Router) {
		api.Get("/users", okHandler)
	})

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/users").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/users").Code)
}

func TestRouter_Group_Middleware(t *testing.T) {
	called := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}

	r, _ := newRouter(t)
	r.Group(func(g *routing.Router) {
		g.Middleware(mw)
		g.Get("/protected", okHandler)
	})

	do(t, r, http.MethodGet, "/protected")
	assert.True(t, called, "expected middleware to be called")
}

// ── Resource routes ───────────────────────────────────────────────────────────

type stubController struct{}

func (s *stubController) Index(w http.ResponseWriter, r *http.Request)   { w.WriteHeader(200) }
func (s *stubController) Store(w http.ResponseWriter, r *http.Request)   { w.WriteHeader(201) }
func (s *stubController) Show(w http.ResponseWriter, r *http.Request)    { w.WriteHeader(200) }
func (s *stubController) Update(w http.ResponseWriter, r *http.Request)  { w.WriteHeader(200) }
func (s *stubController) Destroy(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }

func TestRouter_Resource(t *testing.T) {
	r, c := newRouter(t)
	require.NoError(t, container.RegisterType[*stubController, *stubController](c))
	routing.Resource[*stubController](r, "/photos")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/photos", 200},
		{"POST", "/photos", 201},
		{"GET", "/photos/1", 200},
		{"PUT", "/photos/1", 200},
		{"PATCH", "/photos/1", 200},
		{"DELETE", "/photos/1", 204},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, r, tt.method, tt.path).Code)
		})
	}
}

// ── Request scopes ───────────────────────────────────────────────────────────

func TestScopeMiddleware_OneScopePerRequest(t *testing.T) {
	r, c := newRouter(t)
	require.NoError(t, container.RegisterType[*requestState, *requestState](c,
		registration.InNamedScope(routing.RequestScope)))

	var seen []*requestState
	r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, routing.RequestScope, routing.ScopeFrom(req).Name())
		a, err := routing.Resolve[*requestState](req)
		require.NoError(t, err)
		b, err := routing.Resolve[*requestState](req)
		require.NoError(t, err)
		assert.Same(t, a, b, "shared within a request")
		assert.False(t, a.closed)
		seen = append(seen, a)
	})

	do(t, r, http.MethodGet, "/state")
	do(t, r, http.MethodGet, "/state")

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
	assert.True(t, seen[0].closed, "disposed with the request scope")
	assert.True(t, seen[1].closed)
}

func TestInject(t *testing.T) {
	r, c := newRouter(t)
	require.NoError(t, container.RegisterType[*requestState, *requestState](c,
		registration.InNamedScope(routing.RequestScope)))
	require.NoError(t, container.RegisterType[*userHandler, *userHandler](c))

	r.Get("/users", routing.Inject(func(h *userHandler, w http.ResponseWriter, _ *http.Request) {
		if h.State == nil {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	r.Get("/broken", routing.Inject(func(_ *stubController, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/users").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, r, http.MethodGet, "/broken").Code)
}

func TestResolve_WithoutScope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, routing.ScopeFrom(req))
	_, err := routing.Resolve[*requestState](req)
	assert.ErrorIs(t, err, routing.ErrNoScope)
}

func TestRouter_ResourceControllerPerRequest(t *testing.T) {
	r, c := newRouter(t)
	require.NoError(t, container.RegisterType[*requestState, *requestState](c,
		registration.InNamedScope(routing.RequestScope)))
	require.NoError(t, container.RegisterType[*stateController, *stateController](c))
	routing.Resource[*stateController](r, "/states")

	controllerStates = nil
	do(t, r, http.MethodGet, "/states")
	do(t, r, http.MethodGet, "/states/1")

	require.Len(t, controllerStates, 2)
	assert.NotSame(t, controllerStates[0], controllerStates[1], "each request gets its own scope")
	assert.True(t, controllerStates[0].closed)
}

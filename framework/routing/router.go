package routing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/km-arc/go-ioc/framework/container"
	"github.com/km-arc/go-ioc/framework/scope"
)

// RequestScope is the name of the scope opened for every request. Services
// registered with registration.InNamedScope(RequestScope) live as long as
// the request.
const RequestScope = "request"

// ErrNoScope is returned by Resolve for requests that did not pass through
// ScopeMiddleware.
var ErrNoScope = errors.New("routing: request has no resolution scope")

type scopeKey struct{}

// Router wraps chi.Router with Laravel-style helpers.
type Router struct {
	mux chi.Router
}

// New creates a Router with sane defaults (request logging, Recoverer,
// RealIP) and a resolution scope per request.
func New(c *container.Container, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(ScopeMiddleware(c, log))
	return &Router{mux: r}
}

// ── Scopes ────────────────────────────────────────────────────────────────────

// ScopeMiddleware begins a scope named RequestScope for every request and
// disposes it once the handler returns.
func ScopeMiddleware(c *container.Container, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := c.BeginScope(RequestScope)
			defer func() {
				if err := s.Dispose(); err != nil {
					log.Warn("request scope dispose failed", zap.String("scope", s.ID()), zap.Error(err))
				}
			}()
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), s)))
		})
	}
}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s *scope.Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the resolution scope of r, or nil.
func ScopeFrom(r *http.Request) *scope.Scope {
	s, _ := r.Context().Value(scopeKey{}).(*scope.Scope)
	return s
}

// Resolve resolves T from the scope of r.
//
//	users, err := routing.Resolve[UserService](r)
func Resolve[T any](r *http.Request) (T, error) {
	s := ScopeFrom(r)
	if s == nil {
		var zero T
		return zero, ErrNoScope
	}
	return container.Resolve[T](s)
}

// Inject adapts a handler taking a T to an http.HandlerFunc. T is resolved
// from the request scope; a failure answers 500.
//
//	router.Get("/users", routing.Inject(func(h *UserHandler, w http.ResponseWriter, r *http.Request) {
//	    h.List(w, r)
//	}))
func Inject[T any](fn func(T, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := Resolve[T](r)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		fn(v, w, r)
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)))
		})
	}
}

// ── HTTP verbs ───────────────────────────────────────────────────────────────

func (r *Router) Get(pattern string, h http.HandlerFunc)    { r.mux.Get(pattern, h) }
func (r *Router) Post(pattern string, h http.HandlerFunc)   { r.mux.Post(pattern, h) }
func (r *Router) Put(pattern string, h http.HandlerFunc)    { r.mux.Put(pattern, h) }
func (r *Router) Patch(pattern string, h http.HandlerFunc)  { r.mux.Patch(pattern, h) }
func (r *Router) Delete(pattern string, h http.HandlerFunc) { r.mux.Delete(pattern, h) }

// Any registers a handler for all common HTTP methods.
func (r *Router) Any(pattern string, h http.HandlerFunc) {
	for _, m := range []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions, http.MethodHead,
	} {
		r.mux.Method(m, pattern, h)
	}
}

// ── Groups & Prefixes ────────────────────────────────────────────────────────

// Group creates an inline group: Route::group([], fn)
func (r *Router) Group(fn func(r *Router)) {
	r.mux.Group(func(mx chi.Router) {
		fn(&Router{mux: mx})
	})
}

// Prefix creates a sub-router with a URL prefix: Route::prefix('/api')
func (r *Router) Prefix(pattern string, fn func(r *Router)) {
	r.mux.Route(pattern, func(mx chi.Router) {
		fn(&Router{mux: mx})
	})
}

// ── Middleware ───────────────────────────────────────────────────────────────

// Middleware adds one or more middleware to the router.
func (r *Router) Middleware(mw ...func(http.Handler) http.Handler) {
	r.mux.Use(mw...)
}

// ── Resource routes ──────────────────────────────────────────────────────────

// ResourceController handles the standard RESTful routes of a resource.
//
//	GET    /photos           → c.Index
//	POST   /photos           → c.Store
//	GET    /photos/{id}      → c.Show
//	PUT    /photos/{id}      → c.Update
//	PATCH  /photos/{id}      → c.Update
//	DELETE /photos/{id}      → c.Destroy
type ResourceController interface {
	Index(w http.ResponseWriter, r *http.Request)
	Store(w http.ResponseWriter, r *http.Request)
	Show(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	Destroy(w http.ResponseWriter, r *http.Request)
}

// Resource registers the routes of controller T under pattern. T is
// resolved from the request scope on every request.
//
//	routing.Resource[*PhotoController](router, "/photos")
func Resource[T ResourceController](r *Router, pattern string) {
	item := pattern + "/{id}"
	update := Inject(func(c T, w http.ResponseWriter, req *http.Request) { c.Update(w, req) })
	r.mux.Get(pattern, Inject(func(c T, w http.ResponseWriter, req *http.Request) { c.Index(w, req) }))
	r.mux.Post(pattern, Inject(func(c T, w http.ResponseWriter, req *http.Request) { c.Store(w, req) }))
	r.mux.Get(item, Inject(func(c T, w http.ResponseWriter, req *http.Request) { c.Show(w, req) }))
	r.mux.Put(item, update)
	r.mux.Patch(item, update)
	r.mux.Delete(item, Inject(func(c T, w http.ResponseWriter, req *http.Request) { c.Destroy(w, req) }))
}

// ── Params ───────────────────────────────────────────────────────────────────

// Param extracts a URL param, like $request->route('id')
func Param(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// ── Serve ────────────────────────────────────────────────────────────────────

// ServeHTTP implements http.Handler so Router can be passed to http.ListenAndServe.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

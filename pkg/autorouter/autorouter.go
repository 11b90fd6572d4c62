package autorouter

import (
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/pkg/logger"
)

// Middleware represents middleware function signature
type Middleware func(http.Handler) http.Handler

// ErrorHandler writes the error a handler method returned
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Options configures how handlers are registered
type Options struct {
	Prefix       string       // URL prefix (e.g., "/api/v1/")
	MethodPrefix string       // Method prefix (e.g., "tracking." -> "tracking.Start")
	Middleware   []Middleware // applied to every route, first listed outermost
	OnError      ErrorHandler // defaults to a plain 500
}

// Route describes one registered handler method
type Route struct {
	Path       string
	MethodName string
	Guarded    bool
}

// Router registers the exported handler methods of a struct on a mux
type Router struct {
	mux     *http.ServeMux
	options Options
	logger  *logger.Logger
	routes  []Route
}

// New creates a router
func New(mux *http.ServeMux, options Options, log *logger.Logger) *Router {
	if options.OnError == nil {
		options.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Router{
		mux:     mux,
		options: options,
		logger:  log.WithComponent("autorouter"),
	}
}

// Register adds every exported method of handler that looks like
// func(http.ResponseWriter, *http.Request) [error]. Methods named Handle* are skipped.
func (ar *Router) Register(handler interface{}) error {
	return ar.register(handler, nil)
}

// RegisterGuarded is Register with extra middleware wrapped inside the router's own,
// typically an auth check
func (ar *Router) RegisterGuarded(handler interface{}, guards ...Middleware) error {
	return ar.register(handler, guards)
}

func (ar *Router) register(handler interface{}, guards []Middleware) error {
	methods, err := handlerMethods(handler)
	if err != nil {
		return err
	}

	chain := append(append([]Middleware(nil), ar.options.Middleware...), guards...)
	for _, name := range methods {
		method := reflect.ValueOf(handler).MethodByName(name)
		path := ar.buildURLPath(name)

		ar.mux.Handle(path, wrap(ar.createHandlerFunc(method), chain))
		ar.routes = append(ar.routes, Route{Path: path, MethodName: name, Guarded: len(guards) > 0})

		ar.logger.Debug("Route registered",
			zap.String("path", path),
			zap.String("method", name),
			zap.Bool("guarded", len(guards) > 0),
		)
	}
	return nil
}

// Routes returns what has been registered so far, sorted by path
func (ar *Router) Routes() []Route {
	out := append([]Route(nil), ar.routes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// handlerMethods lists the method names of handler that can serve HTTP
func handlerMethods(handler interface{}) ([]string, error) {
	handlerType := reflect.TypeOf(handler)
	if handlerType == nil {
		return nil, fmt.Errorf("handler must not be nil")
	}

	structType := handlerType
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("handler must be a struct or pointer to struct, got %s", handlerType)
	}

	var names []string
	for i := 0; i < handlerType.NumMethod(); i++ {
		m := handlerType.Method(i)
		if !m.IsExported() || strings.HasPrefix(m.Name, "Handle") {
			continue
		}
		if !isHandlerFunc(reflect.ValueOf(handler).Method(i).Type()) {
			continue
		}
		names = append(names, m.Name)
	}
	return names, nil
}

var (
	errorType          = reflect.TypeOf((*error)(nil)).Elem()
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	requestType        = reflect.TypeOf((*http.Request)(nil))
)

// isHandlerFunc checks for func(http.ResponseWriter, *http.Request) with an optional error result
func isHandlerFunc(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 2 || t.NumOut() > 1 {
		return false
	}
	if t.NumOut() == 1 && !t.Out(0).Implements(errorType) {
		return false
	}
	return t.In(0).Implements(responseWriterType) && t.In(1) == requestType
}

// buildURLPath constructs the URL path from method name
func (ar *Router) buildURLPath(methodName string) string {
	if ar.options.MethodPrefix != "" {
		return ar.options.Prefix + ar.options.MethodPrefix + methodName
	}
	return ar.options.Prefix + strings.ToLower(methodName)
}

func (ar *Router) createHandlerFunc(method reflect.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := method.Call([]reflect.Value{reflect.ValueOf(w), reflect.ValueOf(r)})
		if len(results) == 0 || results[0].IsNil() {
			return
		}
		err := results[0].Interface().(error)
		ar.logger.Warn("Handler returned error", zap.String("path", r.URL.Path), zap.Error(err))
		ar.options.OnError(w, r, err)
	}
}

// wrap applies middleware so the first listed runs outermost
func wrap(h http.Handler, chain []Middleware) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

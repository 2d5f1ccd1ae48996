package middleware

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRouteNotFound is the error notified when a request was passed through unhandled.
var ErrRouteNotFound = errors.New("route not registered")

// PassThroughError is the synthetic error of a request whose handler answered with
// "X-Cascade: pass". It is notified and then dropped; the handler's response stands.
type PassThroughError struct {
	Method string
	Path   string
}

func (e *PassThroughError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrRouteNotFound, e.Method, e.Path)
}

func (*PassThroughError) Unwrap() error {
	return ErrRouteNotFound
}

func (*PassThroughError) StatusCode() int {
	return http.StatusNotFound
}

func (*PassThroughError) Kind() string {
	return "route_not_found"
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/acronis/go-appkit/testutil"
)

const (
	OpenIDConfigurationPath        = "/.well-known/openid-configuration"
	JWKSEndpointPath               = "/idp/keys"
	TokenIntrospectionEndpointPath = "/idp/introspect_token" // nolint:gosec // This server is used for testing purposes only.
)

const localhostWithDynamicPortAddr = "127.0.0.1:0"

var ErrUnauthorized = errors.New("unauthorized")

// HTTPTokenIntrospector is an interface for introspecting tokens via HTTP.
type HTTPTokenIntrospector interface {
	IntrospectToken(r *http.Request, token string) (map[string]interface{}, error)
}

// HTTPTokenIntrospectorFunc is a function that implements HTTPTokenIntrospector interface.
type HTTPTokenIntrospectorFunc func(r *http.Request, token string) (map[string]interface{}, error)

// IntrospectToken implements HTTPTokenIntrospector interface.
func (f HTTPTokenIntrospectorFunc) IntrospectToken(r *http.Request, token string) (map[string]interface{}, error) {
	return f(r, token)
}

// HTTPServerOption is an option for HTTPServer.
type HTTPServerOption func(s *HTTPServer)

// WithHTTPAddress is an option to set HTTP server address.
func WithHTTPAddress(addr string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.addr.Store(addr)
	}
}

// WithHTTPEndpointPaths is an option to set custom paths for different IDP endpoints.
func WithHTTPEndpointPaths(paths HTTPPaths) HTTPServerOption {
	return func(s *HTTPServer) {
		s.paths = paths
	}
}

// WithHTTPTokenIntrospector is an option to set HTTPTokenIntrospector for IntrospectionHandler
// which will be used for POST /idp/introspect_token.
func WithHTTPTokenIntrospector(introspector HTTPTokenIntrospector) HTTPServerOption {
	return func(s *HTTPServer) {
		s.IntrospectionHandler.TokenIntrospector = introspector
	}
}

// WithHTTPClientAuth is an option to require HTTP basic client authentication
// on the introspection endpoint.
func WithHTTPClientAuth(clientID, clientSecret string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.IntrospectionHandler.ClientID = clientID
		s.IntrospectionHandler.ClientSecret = clientSecret
	}
}

// WithHTTPMiddleware is an option to wrap all handlers of the server.
func WithHTTPMiddleware(mw func(http.Handler) http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.middleware = mw
	}
}

// HTTPPaths contains paths for different IDP endpoints.
type HTTPPaths struct {
	OpenIDConfiguration string
	TokenIntrospection  string
	JWKS                string
}

// HTTPServer is a mock IDP server for testing purposes.
type HTTPServer struct {
	*http.Server
	addr                       atomic.Value
	middleware                 func(http.Handler) http.Handler
	paths                      HTTPPaths
	OpenIDConfigurationHandler *OpenIDConfigurationHandler
	IntrospectionHandler       *IntrospectionHandler
	Router                     *http.ServeMux
	afterListenCallbacks       []func()
}

// NewHTTPServer creates a new HTTPServer with provided options.
func NewHTTPServer(options ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{
		OpenIDConfigurationHandler: &OpenIDConfigurationHandler{},
		IntrospectionHandler:       &IntrospectionHandler{},
	}
	for _, opt := range options {
		opt(s)
	}

	if s.paths.OpenIDConfiguration == "" {
		s.paths.OpenIDConfiguration = OpenIDConfigurationPath
	}
	if s.paths.TokenIntrospection == "" {
		s.paths.TokenIntrospection = TokenIntrospectionEndpointPath
	}
	if s.paths.JWKS == "" {
		s.paths.JWKS = JWKSEndpointPath
	}
	s.afterListenCallbacks = append(s.afterListenCallbacks, func() {
		s.OpenIDConfigurationHandler.IntrospectionEndpointURL = s.URL() + s.paths.TokenIntrospection
		s.OpenIDConfigurationHandler.JWKSURL = s.URL() + s.paths.JWKS
	})

	s.Router = http.NewServeMux()
	s.Router.Handle(s.paths.OpenIDConfiguration, s.OpenIDConfigurationHandler)
	s.Router.Handle(s.paths.TokenIntrospection, s.IntrospectionHandler)

	// nolint:gosec // This server is used for testing purposes only.
	s.Server = &http.Server{Handler: s.Router}
	if s.middleware != nil {
		s.Server.Handler = s.middleware(s.Router)
	}

	return s
}

// URL method returns the URL of the server.
func (s *HTTPServer) URL() string {
	if srvURL := s.addr.Load(); srvURL != nil {
		return "http://" + srvURL.(string)
	}
	return ""
}

// Start starts the HTTPServer.
func (s *HTTPServer) Start() error {
	addr, ok := s.addr.Load().(string)
	if !ok {
		addr = localhostWithDynamicPortAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.addr.Store(ln.Addr().String())

	for _, cb := range s.afterListenCallbacks {
		cb()
	}

	go func() { _ = s.Server.Serve(ln) }()

	return nil
}

// StartAndWaitForReady starts the server waits for the server to start listening.
func (s *HTTPServer) StartAndWaitForReady(timeout time.Duration) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return testutil.WaitListeningServer(s.addr.Load().(string), timeout)
}

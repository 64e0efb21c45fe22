/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package introkit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/introkit/go-introkit/internal/idputil"
	"github.com/introkit/go-introkit/introspection"
)

// HeaderAuthorization contains the name of HTTP header with data that is used for authentication and authorization.
const HeaderAuthorization = "Authorization"

// Authentication and authorization error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeBearerTokenMissing                = "bearerTokenMissing"
	ErrCodeAuthenticationFailed              = "authenticationFailed"
	ErrCodeAuthorizationFailed               = "authorizationFailed"
	ErrCodeAuthServiceTemporarilyUnavailable = "authServiceTemporarilyUnavailable"
)

// Authentication error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageBearerTokenMissing                = "Authorization bearer token is missing."
	ErrMessageAuthenticationFailed              = "Authentication is failed."
	ErrMessageAuthorizationFailed               = "Authorization is failed."
	ErrMessageAuthServiceTemporarilyUnavailable = "Authentication service is temporarily unavailable."
)

type ctxKey int

const (
	ctxKeyClaims ctxKey = iota
	ctxKeyBearerToken
)

// Authenticator is an interface for authenticating bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (introspection.AuthResult, error)
}

type authHandler struct {
	next           http.Handler
	errorDomain    string
	authenticator  Authenticator
	verifyAccess   func(r *http.Request, claims map[string]string) bool
	loggerProvider func(ctx context.Context) log.FieldLogger
}

type authMiddlewareOpts struct {
	verifyAccess   func(r *http.Request, claims map[string]string) bool
	loggerProvider func(ctx context.Context) log.FieldLogger
}

// AuthMiddlewareOption is an option for AuthMiddleware.
type AuthMiddlewareOption func(options *authMiddlewareOpts)

// WithAuthMiddlewareVerifyAccess is an option to set a function that verifies access for AuthMiddleware.
func WithAuthMiddlewareVerifyAccess(verifyAccess func(r *http.Request, claims map[string]string) bool) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.verifyAccess = verifyAccess
	}
}

// WithAuthMiddlewareLoggerProvider is an option to set a logger provider for AuthMiddleware.
func WithAuthMiddlewareLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) AuthMiddlewareOption {
	return func(options *authMiddlewareOpts) {
		options.loggerProvider = loggerProvider
	}
}

// AuthMiddleware is a middleware that does authentication
// by Access Token from the "Authorization" HTTP header of incoming request.
// errorDomain is used for error responses. It is usually the name of the service that uses the middleware,
// and its goal is distinguishing errors from different services.
// For example, if the "Authorization" HTTP header is missing, the middleware will return 401 with the following response body:
//
//	{"error": {"domain": "MyService", "code": "bearerTokenMissing", "message": "Authorization bearer token is missing."}}
//
// Rejections (missing, inactive or otherwise unaccepted tokens) get a generic 401 that does not disclose the reason.
// Discovery or transport failures get 503, so that clients can tell a broken authority apart from a bad token.
func AuthMiddleware(errorDomain string, authenticator Authenticator, opts ...AuthMiddlewareOption) func(next http.Handler) http.Handler {
	options := authMiddlewareOpts{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}
	return func(next http.Handler) http.Handler {
		return &authHandler{
			next:           next,
			errorDomain:    errorDomain,
			authenticator:  authenticator,
			verifyAccess:   options.verifyAccess,
			loggerProvider: options.loggerProvider,
		}
	}
}

func (h *authHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := idputil.GetLoggerFromProvider(r.Context(), h.loggerProvider)

	bearerToken := GetBearerTokenFromRequest(r)
	if bearerToken == "" {
		apiErr := restapi.NewError(h.errorDomain, ErrCodeBearerTokenMissing, ErrMessageBearerTokenMissing)
		restapi.RespondError(rw, http.StatusUnauthorized, apiErr, logger)
		return
	}
	// Add the bearer token to the request context
	r = r.WithContext(NewContextWithBearerToken(r.Context(), bearerToken))

	authResult, err := h.authenticator.Authenticate(r.Context(), bearerToken)
	if err != nil {
		if errors.Is(err, introspection.ErrDiscovery) {
			logger.Error("authority discovery failed", log.Error(err))
		} else {
			logger.Error("token introspection failed", log.Error(err))
		}
		apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthServiceTemporarilyUnavailable, ErrMessageAuthServiceTemporarilyUnavailable)
		restapi.RespondError(rw, http.StatusServiceUnavailable, apiErr, logger)
		return
	}
	if !authResult.Authenticated {
		logger.Warn("authentication failed", log.String("reason", string(authResult.Reason)))
		apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthenticationFailed, ErrMessageAuthenticationFailed)
		restapi.RespondError(rw, http.StatusUnauthorized, apiErr, logger)
		return
	}
	logger.AtLevel(log.LevelDebug, func(logFunc log.LogFunc) {
		logFunc("token was successfully authenticated")
	})

	// Add the claims to the request context
	r = r.WithContext(NewContextWithClaims(r.Context(), authResult.Claims))

	if h.verifyAccess != nil {
		// By passing a *http.Request to verifyAccess, we allow its implementations
		// to inject new key/value pairs into the request context.
		if !h.verifyAccess(r, authResult.Claims) {
			apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthorizationFailed, ErrMessageAuthorizationFailed)
			restapi.RespondError(rw, http.StatusForbidden, apiErr, logger)
			return
		}
	}

	h.next.ServeHTTP(rw, r)
}

// GetBearerTokenFromRequest extracts the bearer token from request headers.
func GetBearerTokenFromRequest(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	if strings.HasPrefix(authHeader, "Bearer ") || strings.HasPrefix(authHeader, "bearer ") {
		return authHeader[7:]
	}
	return ""
}

// NewContextWithClaims creates a new context with token claims.
func NewContextWithClaims(ctx context.Context, claims map[string]string) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// GetClaimsFromContext extracts token claims from the context.
func GetClaimsFromContext(ctx context.Context) map[string]string {
	value := ctx.Value(ctxKeyClaims)
	if value == nil {
		return nil
	}
	return value.(map[string]string)
}

// NewContextWithBearerToken creates a new context with token.
func NewContextWithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyBearerToken, token)
}

// GetBearerTokenFromContext extracts token from the context.
func GetBearerTokenFromContext(ctx context.Context) string {
	value := ctx.Value(ctxKeyBearerToken)
	if value == nil {
		return ""
	}
	return value.(string)
}

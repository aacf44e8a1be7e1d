// Package auth provides the authentication context of a request and the
// ownership checks built on it.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Context Key
// =============================================================================

type contextKey string

const authContextKey contextKey = "auth"

// =============================================================================
// Types
// =============================================================================

// Context identifies the caller of a request. Authentication itself
// happens upstream; a gateway injects the headers read here.
type Context struct {
	// UserID is the caller's user id (X-User-ID header or the bearer
	// token's sub claim).
	UserID string

	// KeyID is the API key id if key authentication was used.
	KeyID string

	Authenticated bool
}

// =============================================================================
// Header Constants
// =============================================================================

const (
	HeaderUserID        = "X-User-ID"
	HeaderKeyID         = "X-Key-ID"
	HeaderGatewaySecret = "X-Gateway-Secret"
	HeaderAuthorization = "Authorization"
)

// =============================================================================
// Context Extraction
// =============================================================================

// ExtractFromRequest extracts auth context from HTTP request headers.
func ExtractFromRequest(r *http.Request) Context {
	return ExtractFromHeaders(r.Header)
}

// HeaderGetter is satisfied by http.Header and MapHeaderGetter.
type HeaderGetter interface {
	Get(key string) string
}

// ExtractFromHeaders reads the caller from headers.
//
// Sources, in order:
//  1. X-User-ID
//  2. Authorization: Bearer {jwt}, using the payload's sub claim
func ExtractFromHeaders(headers HeaderGetter) Context {
	if userID := headers.Get(HeaderUserID); userID != "" {
		return Context{
			UserID:        userID,
			KeyID:         headers.Get(HeaderKeyID),
			Authenticated: true,
		}
	}

	// The gateway has already verified the signature.
	subject := bearerSubject(headers.Get(HeaderAuthorization))
	if subject == "" {
		return Context{}
	}
	return Context{UserID: subject, Authenticated: true}
}

func bearerSubject(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

// =============================================================================
// Context Storage
// =============================================================================

// WithContext stores the auth context in the request context.
func WithContext(ctx context.Context, authCtx Context) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// FromContext returns the auth context of ctx, or an unauthenticated one.
func FromContext(ctx context.Context) Context {
	if authCtx, ok := ctx.Value(authContextKey).(Context); ok {
		return authCtx
	}
	return Context{}
}

// MapHeaderGetter adapts a map for tests.
type MapHeaderGetter map[string]string

func (m MapHeaderGetter) Get(key string) string {
	return m[key]
}

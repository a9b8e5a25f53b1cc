// Package identity resolves the acting user of a request.
//
// Authentication happens upstream. By the time a request reaches the
// service the caller's user id has been established and is forwarded in a
// trusted header; this package only carries it through the context.
package identity

import (
	"context"
	"net/http"
	"regexp"
	apperrors "slotswapper/pkg/errors"
	httputil "slotswapper/pkg/http"
	"slotswapper/pkg/logger"
	"strings"
)

type contextKey struct{}

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@:-]{1,128}$`)

// Resolver extracts a user id from an incoming request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

type HeaderResolver struct {
	Header string
}

func NewHeaderResolver(header string) *HeaderResolver {
	return &HeaderResolver{Header: header}
}

func (h *HeaderResolver) Resolve(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get(h.Header))
	if userID == "" {
		return "", apperrors.Unauthorized("missing caller identity")
	}
	if !userIDPattern.MatchString(userID) {
		return "", apperrors.Unauthorized("malformed caller identity")
	}
	return userID, nil
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func FromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

// MustFromContext returns the acting user or an Unauthorized error.
func MustFromContext(ctx context.Context) (string, error) {
	userID, ok := FromContext(ctx)
	if !ok {
		return "", apperrors.Unauthorized("missing caller identity")
	}
	return userID, nil
}

func Middleware(resolver Resolver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.Resolve(r)
			if err != nil {
				log.Warn("Rejected request without identity",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err,
				)
				_ = httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

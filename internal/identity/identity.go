// Package identity maps opaque session tokens to persisted user records.
// Tokens ride a cookie; the first resolution for a token is the only point
// that creates persisted state.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/apperr"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

type Resolver struct {
	store        store.Store
	log          *zap.Logger
	cookieName   string
	cookieMaxAge time.Duration
}

func NewResolver(st store.Store, log *zap.Logger, cookieName string, cookieMaxAge time.Duration) *Resolver {
	if strings.TrimSpace(cookieName) == "" {
		cookieName = "goggins_session"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: st, log: log, cookieName: cookieName, cookieMaxAge: cookieMaxAge}
}

// MintToken returns a fresh opaque session token.
func MintToken() string {
	return "user_" + uuid.NewString()
}

// Ensure resolves the user record for token, lazily creating it with default
// settings and the welcome conversation. Store failures surface as
// StorageUnavailable so callers render "temporarily unavailable" instead of
// proceeding with an ephemeral identity.
func (r *Resolver) Ensure(ctx context.Context, token string) (*store.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.Validation("sessionToken", "must not be empty")
	}

	u, err := r.store.Load(ctx, token)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, storageErr("load user", err)
	}

	u, err = store.Update(ctx, r.store, token, nil)
	if err != nil {
		return nil, storageErr("create user", err)
	}
	r.log.Info("created user for new session", zap.String("session", token))
	return u, nil
}

type ctxKey struct{}

// Middleware attaches a session token to the request context, minting one
// and setting the cookie when the request carries none, and resolves the
// user record so every handler downstream sees persisted state. When the
// store is down the request fails here with 503 instead of each handler
// discovering it separately.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := ""
		if c, err := req.Cookie(r.cookieName); err == nil {
			token = strings.TrimSpace(c.Value)
		}
		if token == "" {
			token = MintToken()
			http.SetCookie(w, &http.Cookie{
				Name:     r.cookieName,
				Value:    token,
				Path:     "/",
				MaxAge:   int(r.cookieMaxAge.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		if _, err := r.Ensure(req.Context(), token); err != nil {
			r.log.Error("resolve session user",
				zap.String("session", token),
				zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"storage temporarily unavailable"}` + "\n"))
			return
		}
		next.ServeHTTP(w, req.WithContext(WithToken(req.Context(), token)))
	})
}

func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

// TokenFrom returns the session token attached by Middleware.
func TokenFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(ctxKey{}).(string)
	return token, ok && token != ""
}

func storageErr(op string, err error) error {
	if errors.Is(err, apperr.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrStorageUnavailable, op, err)
}

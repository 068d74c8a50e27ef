package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
)

// Claims jsou naše vlastní položky v JWT (token vydává uživatelská služba).
type Claims struct {
	Role    string `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
}

// Validate implementuje validator.CustomClaims. Role se kontroluje až v RequireAdmin.
func (c *Claims) Validate(context.Context) error { return nil }

func (c *Claims) Admin() bool {
	return c.IsAdmin || c.Role == "admin"
}

// Auth ověřuje Bearer tokeny (HS256) a roli administrátora.
type Auth struct {
	mw     *jwtmiddleware.JWTMiddleware
	logger *slog.Logger
}

func NewAuth(secret, issuer, audience string, logger *slog.Logger) (*Auth, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET není nastaven")
	}
	key := []byte(secret)
	v, err := validator.New(
		func(context.Context) (interface{}, error) { return key, nil },
		validator.HS256,
		issuer,
		[]string{audience},
		validator.WithCustomClaims(func() validator.CustomClaims { return &Claims{} }),
		validator.WithAllowedClockSkew(30*time.Second),
	)
	if err != nil {
		return nil, err
	}

	a := &Auth{logger: logger}
	a.mw = jwtmiddleware.New(v.ValidateToken, jwtmiddleware.WithErrorHandler(a.unauthorized))
	return a, nil
}

// Require pustí dál jen požadavky s platným tokenem.
func (a *Auth) Require(next http.Handler) http.Handler {
	return a.mw.CheckJWT(next)
}

// RequireAdmin navíc vyžaduje roli administrátora (jinak 403).
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return a.mw.CheckJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		custom, ok := claims.CustomClaims.(*Claims)
		if !ok || !custom.Admin() {
			a.logger.Warn("Odepřen přístup k administraci", "subject", claims.RegisteredClaims.Subject, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (a *Auth) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Debug("Neplatný token", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

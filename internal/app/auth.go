package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medcare-hms/medcare/internal/platform/httpx"
	"github.com/medcare-hms/medcare/internal/shared"
)

// Claims are carried by every bearer token. The subject holds the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and places the actor in context.
type Authenticator struct {
	secret []byte
	issuer string
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthenticator builds an Authenticator from configuration.
func NewAuthenticator(secret, issuer string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, logger: logger, now: time.Now}
}

// Issue signs a token for actor valid for ttl.
func (a *Authenticator) Issue(actor shared.Actor, ttl time.Duration) (string, error) {
	if actor.ID <= 0 {
		return "", errors.New("app: actor id required")
	}
	if strings.TrimSpace(actor.Role) == "" {
		return "", errors.New("app: actor role required")
	}
	now := a.now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.ID, 10),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates raw and returns the actor it names.
func (a *Authenticator) Parse(raw string) (shared.Actor, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return shared.Actor{}, err
	}
	if !token.Valid {
		return shared.Actor{}, jwt.ErrTokenInvalidClaims
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("%w: subject %q", jwt.ErrTokenInvalidSubject, claims.Subject)
	}
	return shared.Actor{ID: id, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		actor, err := a.Parse(strings.TrimSpace(raw))
		if err != nil {
			a.logger.Debug("bearer token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

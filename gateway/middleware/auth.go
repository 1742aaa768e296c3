package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"optionsvault/crypto"
)

// CallerHeader names the caller when authentication is disabled on devnets.
const CallerHeader = "X-Vault-Caller"

type AuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	ScopeClaim     string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type contextKey string

const (
	ContextKeyToken  contextKey = "vaultd.token"
	ContextKeyScopes contextKey = "vaultd.scopes"
	ContextKeyCaller contextKey = "vaultd.caller"
)

var (
	errSecretMissing = errors.New("auth: secret not configured")
	errSubject       = errors.New("auth: sub claim is not a vault address")
)

// Authenticator verifies HS256 bearer tokens and resolves the caller address
// from the sub claim.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		now:    time.Now,
	}
}

// CallerFromContext returns the address the request acts as.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).([20]byte)
	return caller, ok
}

// ScopesFromContext returns the token scopes of the request.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				a.passthrough(next, w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				if a.isOptional(r.URL.Path) && a.cfg.AllowAnonymous {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err == nil {
				err = validateClaims(claims, a.cfg.Issuer, a.cfg.Audience)
			}
			if err != nil {
				a.logger.Warn("token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			caller, err := subjectAddress(claims)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
			ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
			ctx = context.WithValue(ctx, ContextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// passthrough trusts CallerHeader when authentication is off.
func (a *Authenticator) passthrough(next http.Handler, w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.Header.Get(CallerHeader))
	if raw == "" {
		next.ServeHTTP(w, r)
		return
	}
	caller, err := crypto.ParseVaultAddress(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid %s header", CallerHeader), http.StatusBadRequest)
		return
	}
	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyCaller, caller)))
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errSecretMissing
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

// IssueToken signs an HS256 token for subject, which must be a vault
// address. Used by vaultctl and tests.
func IssueToken(secret, issuer, audience, subject string, scopes []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errSecretMissing
	}
	if _, err := crypto.ParseVaultAddress(subject); err != nil {
		return "", fmt.Errorf("%w: %v", errSubject, err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func subjectAddress(claims jwt.MapClaims) ([20]byte, error) {
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return [20]byte{}, errSubject
	}
	addr, err := crypto.ParseVaultAddress(sub)
	if err != nil {
		return [20]byte{}, errSubject
	}
	return addr, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					return nil
				}
			}
			return errors.New("audience mismatch")
		default:
			return errors.New("audience mismatch")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

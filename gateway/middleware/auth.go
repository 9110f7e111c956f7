package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"nhbcdp/crypto"
)

type AuthConfig struct {
	Enabled       bool
	HMACSecret    string
	Issuer        string
	Audience      string
	OptionalPaths []string
	ClockSkew     time.Duration
}

type contextKey string

const (
	ContextKeyCaller contextKey = "gateway.caller"
	ContextKeyScopes contextKey = "gateway.scopes"
)

// CallerHeader names the caller when authentication is disabled, for local
// development only.
const CallerHeader = "X-NHB-Caller"

var errNoSubject = errors.New("subject missing")

// scopeList accepts both the space separated OAuth form and a JSON array.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*s = strings.Fields(joined)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// ledgerClaims are the token claims the gateway reads. The subject is the
// caller's bech32 address.
type ledgerClaims struct {
	Scope scopeList `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HMAC signed bearer tokens and binds the caller
// address and granted scopes to the request context.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

// Middleware authenticates the request and requires every scope in
// requiredScopes. With authentication disabled the caller is read from
// CallerHeader and scopes are not checked.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				if caller, err := crypto.DecodeAddress(r.Header.Get(CallerHeader)); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), ContextKeyCaller, caller))
				}
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if header == "" && a.isOptional(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			raw := extractBearer(header)
			if raw == "" {
				denyRequest(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			caller, scopes, err := a.verify(raw)
			if err != nil {
				a.logger.Debug("auth: token rejected", "error", err)
				denyRequest(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if !hasScopes(scopes, requiredScopes) {
				denyRequest(w, http.StatusForbidden, "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyCaller, caller)
			ctx = context.WithValue(ctx, ContextKeyScopes, []string(scopes))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) verify(raw string) (crypto.Address, scopeList, error) {
	if len(a.secret) == 0 {
		return crypto.Address{}, nil, errors.New("auth secret not configured")
	}
	claims := &ledgerClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return crypto.Address{}, nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return crypto.Address{}, nil, errNoSubject
	}
	caller, err := crypto.DecodeAddress(claims.Subject)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	return caller, claims.Scope, nil
}

// CallerFromContext returns the authenticated caller of a request.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(crypto.Address)
	if !ok || caller.IsZero() {
		return crypto.Address{}, false
	}
	return caller, true
}

// ScopesFromContext returns the scopes granted to the request's token.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func hasScopes(granted, required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range granted {
			if have == want {
				found = true
				break
			}
		}
		if !found {
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

// denyRequest writes the same error body shape the ledger routes use.
func denyRequest(w http.ResponseWriter, status int, msg string) {
	kind := "unauthenticated"
	if status == http.StatusForbidden {
		kind = "unauthorized"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}

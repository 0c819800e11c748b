package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"xficredit/crypto"
	"xficredit/observability/metrics"
)

// AuthConfig describes the HS256 bearer tokens the API accepts. The token
// subject is the caller's ledger address.
type AuthConfig struct {
	HMACSecret     string
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
	AnonymousReads bool
}

type contextKey string

const callerKey contextKey = "ledgerd.caller"

var (
	errMissingToken   = errors.New("missing bearer token")
	errSecretMissing  = errors.New("auth secret not configured")
	errSigningMethod  = errors.New("unexpected signing method")
	errIssuerMismatch = errors.New("issuer mismatch")
	errAudience       = errors.New("audience mismatch")
	errSubject        = errors.New("subject is not a ledger address")
)

// Authenticator validates bearer tokens and installs the caller address in the
// request context.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Middleware rejects requests without a valid token. Reads pass anonymously
// when configured; a token presented on a read is still validated.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r.Header.Get("Authorization"))
		if raw == "" && a.cfg.AnonymousReads && r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := a.Authenticate(raw)
		if err != nil {
			metrics.HTTP().IncAuthFailure(failureReason(err))
			a.logger.Debug("bearer token rejected", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "invalid or missing bearer token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Authenticate validates raw and returns the subject address.
func (a *Authenticator) Authenticate(raw string) (crypto.Address, error) {
	if raw == "" {
		return crypto.Address{}, errMissingToken
	}
	if len(a.secret) == 0 {
		return crypto.Address{}, errSecretMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !token.Valid {
		return crypto.Address{}, jwt.ErrTokenUnverifiable
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil || caller.IsZero() {
		return crypto.Address{}, errSubject
	}
	return caller, nil
}

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(secret string, subject crypto.Address, issuer, audience string, ttl time.Duration, now time.Time) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errSecretMissing
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// WithCaller stores the authenticated address on ctx.
func WithCaller(ctx context.Context, caller crypto.Address) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the authenticated address.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(callerKey).(crypto.Address)
	return caller, ok
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errMissingToken):
		return "missing"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, errSubject):
		return "subject"
	default:
		return "invalid"
	}
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

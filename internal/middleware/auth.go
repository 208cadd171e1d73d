package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/lottery_layer/internal/httputil"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
)

// CodeUnauthenticated is returned when a bearer token is missing or invalid.
const CodeUnauthenticated = "unauthenticated"

var errInvalidToken = errors.New("invalid token")

// Claims are the JWT claims accepted by the API. NeoAddress binds the token to
// the account that signs lottery messages.
type Claims struct {
	NeoAddress string `json:"neo_address"`
	jwt.RegisteredClaims
}

type senderKey struct{}

// WithSender stores the authenticated sender address in ctx.
func WithSender(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, senderKey{}, addr)
}

// Sender returns the authenticated sender address, if any.
func Sender(ctx context.Context) string {
	s, _ := ctx.Value(senderKey{}).(string)
	return s
}

// AuthMiddleware validates HS256 bearer tokens.
type AuthMiddleware struct {
	secret []byte
	log    *logger.Logger
}

// NewAuthMiddleware creates an authentication middleware. An empty secret
// disables authentication entirely.
func NewAuthMiddleware(secret string, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{secret: []byte(secret), log: log}
}

// Enabled reports whether tokens are required.
func (m *AuthMiddleware) Enabled() bool {
	return len(m.secret) > 0
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			m.reject(w, r, "missing Authorization header", nil)
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.reject(w, r, "invalid Authorization header format", nil)
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.reject(w, r, "invalid token", err)
			return
		}

		m.log.WithField("neo_address", claims.NeoAddress).Debug("authenticated request")
		next.ServeHTTP(w, r.WithContext(WithSender(r.Context(), claims.NeoAddress)))
	})
}

func (m *AuthMiddleware) validateToken(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", errInvalidToken, token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.NeoAddress == "" {
		return nil, fmt.Errorf("%w: neo_address claim missing", errInvalidToken)
	}
	return claims, nil
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, message string, err error) {
	entry := m.log.WithField("path", r.URL.Path).WithField("method", r.Method)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("authentication failed")
	httputil.WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, message)
}

// IssueToken signs an HS256 token for addr valid for ttl. It is used by
// tooling and tests to mint credentials for a local deployment.
func IssueToken(secret, addr string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		NeoAddress: addr,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/slighter12/jsonrpc-entrypoint/jsonrpc"
	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

// SharedKey is the shared value key the verified claims are stored under.
const SharedKey = "claims"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims are the token claims handed to methods.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.StandardClaims
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Issuer signs HS256 tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates a token issuer. A non-positive ttl defaults to one hour.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue generates a signed token for subject.
func (i *Issuer) Issue(subject, name string, roles ...string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Name:  name,
		Roles: roles,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(i.ttl).Unix(),
		},
	})
	return token.SignedString(i.secret)
}

// Resolver is a context resolver verifying the Authorization bearer token.
// Failures are transport errors with status 401.
type Resolver struct {
	secret   []byte
	issuer   string
	required bool
}

// NewResolver creates a resolver. When required is false, calls without a
// token resolve to no claims; a token that is present must still be valid.
func NewResolver(secret, issuer string, required bool) *Resolver {
	return &Resolver{secret: []byte(secret), issuer: issuer, required: required}
}

func (r *Resolver) Resolve(req *http.Request) (jsonrpc.Shared, error) {
	raw, ok := bearerToken(req.Header.Get("Authorization"))
	if !ok {
		if r.required {
			return jsonrpc.Shared{}, unauthorized(ErrMissingToken)
		}
		return jsonrpc.Shared{}, nil
	}

	claims, err := r.Validate(raw)
	if err != nil {
		logger.Debug("Rejected bearer token", "remote_addr", req.RemoteAddr, "error", err)
		return jsonrpc.Shared{}, unauthorized(err)
	}
	return jsonrpc.NewShared(map[string]any{SharedKey: claims}), nil
}

// Validate parses and verifies a signed token.
func (r *Resolver) Validate(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if r.issuer != "" && !claims.VerifyIssuer(r.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	return claims, nil
}

// ClaimsFrom returns the verified claims of the call handling ctx.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	return jsonrpc.SharedValue[*Claims](ctx, SharedKey)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(err error) error {
	return &jsonrpc.TransportError{Status: http.StatusUnauthorized, Message: "unauthorized", Err: err}
}

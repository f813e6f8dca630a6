// Package apiauth guards the write/invoke control-plane endpoints with
// bearer-token authentication, grounded on the teacher's
// internal/auth-v2 JWTAuthenticator but carried forward to
// golang-jwt/jwt/v5 and simplified to the one thing a fleet daemon
// needs: verify a token signed by the operator's Ed25519 key and read
// its "sub"/"roles" claims. There is no session store and no login
// flow here — tokens are minted out of band by whatever issues them
// for the fleet, the same way cc-backend's ProvideJWT exists
// independently of its session-cookie login path.
package apiauth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// RoleAdmin is the only role this daemon's authorizer checks for;
// write and invoke endpoints require it. Read endpoints are never
// gated (spec's fleet surface keeps dashboards open locally, matching
// the teacher's DisableAuthentication escape hatch).
const RoleAdmin = "admin"

type contextKey string

const contextUserKey contextKey = "apiauth-user"

// User identifies the caller a verified token was issued for.
type User struct {
	Subject string
	Roles   []string
}

// HasRole reports whether u carries role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator verifies and mints bearer tokens using one Ed25519
// keypair, loaded the same way the teacher loads JWT_PUBLIC_KEY and
// JWT_PRIVATE_KEY: base64-encoded raw key bytes.
type Authenticator struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
	maxAge     time.Duration
}

// NewAuthenticator decodes the base64 public/private key material.
// privateKeyB64 may be empty for a verify-only instance (e.g. a
// read-replica daemon that never mints tokens itself).
func NewAuthenticator(publicKeyB64, privateKeyB64 string, maxAge time.Duration) (*Authenticator, error) {
	if publicKeyB64 == "" {
		return nil, errors.New("apiauth: empty public key")
	}
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, err
	}

	a := &Authenticator{publicKey: ed25519.PublicKey(pub), maxAge: maxAge}
	if privateKeyB64 != "" {
		priv, err := base64.StdEncoding.DecodeString(privateKeyB64)
		if err != nil {
			return nil, err
		}
		a.privateKey = ed25519.PrivateKey(priv)
	}
	return a, nil
}

// IssueToken mints a new bearer token for subject carrying roles,
// signed with EdDSA.
func (a *Authenticator) IssueToken(subject string, roles []string) (string, error) {
	if a.privateKey == nil {
		return "", errors.New("apiauth: no private key configured, cannot issue tokens")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"iat":   now.Unix(),
	}
	if a.maxAge > 0 {
		claims["exp"] = now.Add(a.maxAge).Unix()
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(a.privateKey)
}

// Verify parses and validates rawToken, returning the User it names.
func (a *Authenticator) Verify(rawToken string) (User, error) {
	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, errors.New("apiauth: only EdDSA tokens are accepted")
		}
		return a.publicKey, nil
	})
	if err != nil {
		return User{}, err
	}
	if !token.Valid {
		return User{}, errors.New("apiauth: token invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, errors.New("apiauth: unexpected claims type")
	}
	sub, _ := claims["sub"].(string)

	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, rr := range raw {
			if s, ok := rr.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return User{Subject: sub, Roles: roles}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// RequireRole returns middleware that rejects any request lacking a
// valid bearer token carrying role, mirroring the teacher's per-route
// RequireValidToken/RequireAdmin handler wrapping in rest-api.go.
func (a *Authenticator) RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			http.Error(rw, "missing bearer token", http.StatusUnauthorized)
			return
		}

		user, err := a.Verify(raw)
		if err != nil {
			cclog.Warnf("apiauth: rejected token: %v", err)
			http.Error(rw, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		if role != "" && !user.HasRole(role) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), contextUserKey, user)
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// UserFromContext returns the User a RequireRole middleware attached
// to ctx, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(contextUserKey).(User)
	return u, ok
}

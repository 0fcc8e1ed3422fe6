// Package auth resolves the user behind an HTTP request. Sessions are issued
// elsewhere; this package only validates them.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the session cookie set by the login flow
const CookieName = "access_token"

// ErrUnauthenticated is returned when a request carries no valid identity
var ErrUnauthenticated = errors.New("unauthenticated")

// JWT validates HS256 access tokens and uses the subject as the user ID
type JWT struct {
	secret   []byte
	audience string
}

// NewJWT creates a JWT authenticator. An empty audience skips the aud check.
func NewJWT(secret, audience string) (*JWT, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWT{secret: []byte(secret), audience: audience}, nil
}

// UserID returns the subject of the bearer token or session cookie
func (j *JWT) UserID(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(CookieName); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return "", ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.audience != "" {
		opts = append(opts, jwt.WithAudience(j.audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// Basic checks basic auth credentials; the username is the user ID
type Basic struct {
	Username string
	Password string
}

// UserID validates the Authorization header against the configured credentials
func (b Basic) UserID(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", ErrUnauthenticated
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", ErrUnauthenticated
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return "", ErrUnauthenticated
	}
	userOK := subtle.ConstantTimeCompare([]byte(credentials[0]), []byte(b.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(credentials[1]), []byte(b.Password)) == 1
	if !userOK || !passOK {
		return "", ErrUnauthenticated
	}
	return b.Username, nil
}

// Static authenticates every request as one user. Used when no auth is configured.
type Static struct {
	User string
}

// UserID always returns the configured user
func (s Static) UserID(*http.Request) (string, error) {
	return s.User, nil
}

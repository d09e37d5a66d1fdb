package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrTokenExpired = errors.New("token expired")

// expiryLeeway rejects tokens that would expire while a large upload is
// still running.
const expiryLeeway = 30 * time.Second

// Token is what the client knows about its bearer token. The signature is
// never verified here, the backend does that.
type Token struct {
	Raw       string
	JWT       bool
	Subject   string
	ExpiresAt *time.Time
}

// CheckToken inspects a bearer token before the network is used. Expired JWTs
// are rejected with ErrTokenExpired, opaque tokens pass through unchecked.
// An empty token yields a nil Token.
func CheckToken(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, nil
	}

	token := &Token{Raw: raw}
	if strings.Count(raw, ".") != 2 {
		return token, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		zap.S().Named("auth").Debugw("token is not a jwt, sending it as is", "error", err)
		return token, nil
	}
	token.JWT = true

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		token.Subject = sub
	} else if username, ok := claims["preferred_username"].(string); ok {
		token.Subject = username
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token expiration")
	}
	if exp == nil {
		return token, nil
	}
	token.ExpiresAt = &exp.Time

	if time.Now().Add(expiryLeeway).After(exp.Time) {
		return nil, errors.Wrapf(ErrTokenExpired, "token for %q expired at %s", token.Subject, exp.Time.Format(time.RFC3339))
	}
	return token, nil
}

// Bearer returns the Authorization header value for t.
func (t *Token) Bearer() string {
	if t == nil {
		return ""
	}
	return "Bearer " + t.Raw
}

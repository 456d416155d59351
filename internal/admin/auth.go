package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/calder-labs/billing-gateway/internal/common"
)

// TokenAuth guards the admin API with HMAC-signed JWTs.
type TokenAuth struct {
	Secret    []byte
	Algorithm jwa.SignatureAlgorithm
	Issuer    string
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewTokenAuth builds the standard HS256 admin token guard.
func NewTokenAuth(secret, issuer string) TokenAuth {
	return TokenAuth{
		Secret:    []byte(secret),
		Algorithm: jwa.HS256,
		Issuer:    issuer,
		ClockSkew: 30 * time.Second,
		Now:       time.Now,
	}
}

// RequireAuth rejects requests without a valid bearer token and attaches the
// token subject to the request context.
func (a TokenAuth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.parse(extractBearer(r))
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithSubject(r.Context(), subject)))
	})
}

func (a TokenAuth) parse(token string) (string, error) {
	if token == "" {
		return "", errors.New("admin: token missing")
	}
	algorithm, err := tokenAlgorithm(token)
	if err != nil {
		return "", err
	}
	if algorithm != a.Algorithm {
		return "", fmt.Errorf("admin: unexpected token algorithm %s", algorithm)
	}
	parsed, err := jwt.ParseString(token, jwt.WithKey(algorithm, a.Secret))
	if err != nil {
		return "", err
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if a.ClockSkew > 0 {
		options = append(options, jwt.WithAcceptableSkew(a.ClockSkew))
	}
	if a.Issuer != "" {
		options = append(options, jwt.WithIssuer(a.Issuer))
	}
	if err := jwt.Validate(parsed, options...); err != nil {
		return "", err
	}
	return parsed.Subject(), nil
}

// tokenAlgorithm reads the signing algorithm off the compact token so it can
// be pinned before key material is applied.
func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("admin: token contains no signatures")
	}
	return signatures[0].ProtectedHeaders().Algorithm(), nil
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LooksLikeToken reports whether a presented password is shaped like a
// JWT, so app tokens can share the password field.
func LooksLikeToken(password string) bool {
	return strings.Count(password, ".") == 2 && strings.HasPrefix(password, "eyJ")
}

// VerifyAppToken validates an HS256 app token for the given address.
// The subject must match the address and the token must not be
// expired.
func VerifyAppToken(secret, address, token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return fmt.Errorf("token has no subject: %w", err)
	}
	if !strings.EqualFold(subject, address) {
		return fmt.Errorf("token subject does not match login")
	}
	return nil
}

// IssueAppToken mints an app token for an address, used by operator
// tooling.
func IssueAppToken(secret, address string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strings.ToLower(address),
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(lifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

package auth

import (
	"errors"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// malformed, bad signature, wrong signing method, or expired.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the fields embedded in an access token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the token subject as a positive integer user id.
func (c Claims) UserID() (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(c.Subject))
	if err != nil || id < 1 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Verifier authenticates access tokens against a process-wide secret.
// Verification is all-or-nothing; there is no partial trust in a token
// that fails any check.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify decodes and authenticates the token, returning its claims.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

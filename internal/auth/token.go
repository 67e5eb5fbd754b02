// Package auth decodes bearer tokens presented by clients. Token issuance is
// handled elsewhere; this package only validates and extracts the principal.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const RoleInstructor = "Instructor"

var ErrInvalidToken = errors.New("invalid authentication token")

// Claims carried by an LMS access token.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type Decoder struct {
	secret []byte
}

func NewDecoder(secret string) *Decoder {
	return &Decoder{[]byte(secret)}
}

// Decode validates the signed token and returns its claims.
func (d *Decoder) Decode(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return d.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

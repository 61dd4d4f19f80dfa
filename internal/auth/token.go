package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Role string `json:"role"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type tokenClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Name: claims.Name,
		Role: claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Sub,
			ID:        claims.JTI,
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.Exp, 0)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "leaddesk",
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{
		Sub:  parsed.Subject,
		Name: parsed.Name,
		Role: parsed.Role,
		JTI:  parsed.ID,
	}
	if parsed.ExpiresAt != nil {
		claims.Exp = parsed.ExpiresAt.Unix()
	}
	if claims.Sub == "" || claims.Name == "" || claims.JTI == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

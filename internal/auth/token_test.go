package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: "agent",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if strings.Count(issued, ".") != 2 {
		t.Fatalf("expected a three-part JWT, got %q", issued)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" || claims.Role != "agent" || claims.JTI != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: "agent",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{
		Sub:  "user-1",
		Name: "Avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

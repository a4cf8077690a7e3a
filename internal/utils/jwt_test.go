package utils

import (
	"testing"
	"time"
)

func init() {
	SetJWTSecret("test-secret-key-for-testing")
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(1, "+254700000001", "admin", 24)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if token == "" {
		t.Error("GenerateToken() returned empty token")
	}

	if len(token) < 50 {
		t.Errorf("token seems too short: %d chars", len(token))
	}
}

func TestGenerateToken_DifferentTokens(t *testing.T) {
	token1, _ := GenerateToken(1, "+254700000001", "admin", 24)
	token2, _ := GenerateToken(2, "+254700000002", "user", 24)

	if token1 == token2 {
		t.Error("different users should produce different tokens")
	}
}

func TestParseToken(t *testing.T) {
	userID := uint(42)
	phone := "+254711223344"
	role := "admin"

	token, _ := GenerateToken(userID, phone, role, 24)

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("UserID = %d, expected %d", claims.UserID, userID)
	}
	if claims.Phone != phone {
		t.Errorf("Phone = %q, expected %q", claims.Phone, phone)
	}
	if claims.Role != role {
		t.Errorf("Role = %q, expected %q", claims.Role, role)
	}
}

func TestParseToken_InvalidToken(t *testing.T) {
	invalidTokens := []string{
		"",
		"not-a-token",
		"aaa.bbb.ccc",
	}

	for _, tok := range invalidTokens {
		if _, err := ParseToken(tok); err == nil {
			t.Errorf("ParseToken(%q) should have failed", tok)
		}
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, _ := GenerateToken(1, "+254700000001", "user", 24)

	SetJWTSecret("a-different-secret")
	defer SetJWTSecret("test-secret-key-for-testing")

	if _, err := ParseToken(token); err == nil {
		t.Error("token signed with old secret should not validate")
	}
}

func TestParseToken_Expiry(t *testing.T) {
	token, _ := GenerateToken(7, "+254700000007", "user", 1)

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.ExpiresAt == nil {
		t.Fatal("ExpiresAt should be set")
	}
	until := time.Until(claims.ExpiresAt.Time)
	if until <= 0 || until > time.Hour+time.Minute {
		t.Errorf("expiry should be about 1 hour out, got %v", until)
	}
}

package jwt

import (
	"errors"
	"testing"
)

const testSecret = "test-secret-key-for-staff-tokens"

func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateAccessToken(7, "STAFF01", "STAFF", testSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	claims, err := ValidateAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if claims.UserID != 7 || claims.Code != "STAFF01" || claims.Role != "STAFF" || claims.Issuer != Issuer {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejects(t *testing.T) {
	expired, err := GenerateAccessToken(1, "ADMIN", "ADMIN", testSecret, -5)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	if _, err := ValidateAccessToken(expired, testSecret); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	valid, err := GenerateAccessToken(1, "ADMIN", "ADMIN", testSecret, 5)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	if _, err := ValidateAccessToken(valid, "another-secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}
	if _, err := ValidateAccessToken("not.a.token", testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}

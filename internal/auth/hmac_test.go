package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedVerifier(t *testing.T, secret string) *HMACTokenVerifier {
	t.Helper()
	verifier, err := NewHMACTokenVerifier(secret, 0)
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	verifier.WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) })
	return verifier
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	verifier := fixedVerifier(t, "spectator-secret")

	token, err := verifier.MintToken("viewer-1", "spectate", time.Hour)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "viewer-1" || claims.Audience != "spectate" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	verifier := fixedVerifier(t, "spectator-secret")
	token, _ := verifier.MintToken("viewer-1", "spectate", time.Hour)

	tampered := strings.Replace(token, ".", ".x", 1)
	if _, err := verifier.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter := fixedVerifier(t, "secret-a")
	verifier := fixedVerifier(t, "secret-b")

	token, _ := minter.MintToken("viewer-1", "spectate", time.Hour)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier := fixedVerifier(t, "spectator-secret")
	token, _ := verifier.MintToken("viewer-1", "spectate", time.Minute)

	verifier.WithClock(func() time.Time { return time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC) })
	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	verifier := fixedVerifier(t, "spectator-secret")
	for _, token := range []string{"", "a.b", "not-a-token"} {
		if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewHMACTokenVerifier("  ", 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

package registry

import (
	"testing"
	"time"
)

func TestResumeTokenRoundTrip(t *testing.T) {
	signer := NewResumeTokenSigner([]byte("test-secret"), time.Hour)
	now := time.Now()

	tok, err := signer.Issue("42XAAAAAB", "alice", now)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := signer.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UID != "42XAAAAAB" || claims.NickCasefold != "alice" {
		t.Fatalf("claims = %+v, want UID=42XAAAAAB NickCasefold=alice", claims)
	}
}

func TestResumeTokenRejectsWrongSecret(t *testing.T) {
	signer := NewResumeTokenSigner([]byte("secret-a"), time.Hour)
	tok, err := signer.Issue("42XAAAAAB", "alice", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	other := NewResumeTokenSigner([]byte("secret-b"), time.Hour)
	if _, err := other.Verify(tok); err == nil {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

func TestResumeTokenRejectsExpired(t *testing.T) {
	signer := NewResumeTokenSigner([]byte("test-secret"), -time.Minute)
	tok, err := signer.Issue("42XAAAAAB", "alice", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.Verify(tok); err == nil {
		t.Fatal("expected verification to fail for an expired token")
	}
}

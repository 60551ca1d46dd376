package internal

import (
	"errors"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID error: %v", err)
	}
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}

	token := EncodeToken(id, secret)

	gotID, gotSecret, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken error: %v", err)
	}
	if gotID != id {
		t.Fatal("token id did not round-trip")
	}
	if gotSecret != secret {
		t.Fatal("token secret did not round-trip")
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	cases := []string{"", "!!!!", "dG9vLXNob3J0"}
	for _, c := range cases {
		if _, _, err := DecodeToken(c); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("DecodeToken(%q): expected ErrTokenMalformed, got %v", c, err)
		}
	}
}

func TestParseTokenIDRoundTrip(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID error: %v", err)
	}

	parsed, err := ParseTokenID(id.String())
	if err != nil {
		t.Fatalf("ParseTokenID error: %v", err)
	}
	if parsed != id {
		t.Fatal("token id string form did not round-trip")
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}
	if HashSecret(secret) != HashSecret(secret) {
		t.Fatal("HashSecret must be deterministic")
	}

	other, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}
	if HashSecret(secret) == HashSecret(other) {
		t.Fatal("distinct secrets must hash differently")
	}
}

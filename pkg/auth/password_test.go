package auth

import (
	"errors"
	"testing"

	"bookstore/pkg/domain"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "not-a-hash") {
		t.Fatalf("malformed hash must not match")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("Str0ng#Password!"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	tests := []struct {
		name     string
		password string
	}{
		{name: "short", password: "short1!A"},
		{name: "no uppercase", password: "alllowercase123!"},
		{name: "no lowercase", password: "ALLUPPERCASE123!"},
		{name: "no digit", password: "NoDigitsHere!!!"},
		{name: "no special", password: "NoSpecials1234"},
	}
	for _, tc := range tests {
		err := ValidatePassword(tc.password)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

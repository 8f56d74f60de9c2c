package auth

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testTokenStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Create(t *testing.T) {
	s := testTokenStore(t)

	token, secret, err := s.Create("ci-deploy", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasPrefix(token.ID, "tok_") {
		t.Errorf("ID = %q, want tok_ prefix", token.ID)
	}
	if !strings.HasPrefix(secret, "wdn_") {
		t.Errorf("secret = %q, want wdn_ prefix", secret)
	}
	if len(secret) != len("wdn_")+64 {
		t.Errorf("len(secret) = %d, want prefix plus 64 hex chars", len(secret))
	}
	if token.CreatedAt.IsZero() {
		t.Error("Create() should set CreatedAt")
	}
}

func TestStore_CreateRequiresName(t *testing.T) {
	s := testTokenStore(t)

	if _, _, err := s.Create("  ", nil); err == nil {
		t.Error("Create() with blank name should return error")
	}
}

func TestStore_Validate(t *testing.T) {
	s := testTokenStore(t)

	token, secret, err := s.Create("ci", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Validate(secret)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.ID != token.ID || got.Name != "ci" {
		t.Errorf("Validate() = %+v, want token %s", got, token.ID)
	}
}

func TestStore_ValidateRejectsUnknownSecret(t *testing.T) {
	s := testTokenStore(t)

	if _, _, err := s.Create("ci", nil); err != nil {
		t.Fatal(err)
	}

	wrong := "wdn_" + strings.Repeat("ab", 32)
	if _, err := s.Validate(wrong); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Validate() error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_ValidateRejectsMalformedSecret(t *testing.T) {
	s := testTokenStore(t)

	if _, err := s.Validate("not-a-warden-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestStore_ValidateRejectsExpired(t *testing.T) {
	s := testTokenStore(t)

	past := time.Now().Add(-time.Hour)
	_, secret, err := s.Create("expired", &past)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := s.Validate(secret); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate() error = %v, want ErrTokenExpired", err)
	}
}

func TestStore_ValidateTouchesLastUsed(t *testing.T) {
	s := testTokenStore(t)

	token, secret, err := s.Create("ci", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Validate(secret); err != nil {
		t.Fatal(err)
	}

	// The last-used update runs in the background.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tokens, err := s.List()
		if err != nil {
			t.Fatal(err)
		}
		for _, got := range tokens {
			if got.ID == token.ID && got.LastUsedAt != nil {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("LastUsedAt never set after Validate()")
}

func TestStore_List(t *testing.T) {
	s := testTokenStore(t)

	for _, name := range []string{"one", "two", "three"} {
		if _, _, err := s.Create(name, nil); err != nil {
			t.Fatal(err)
		}
	}

	tokens, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tokens) != 3 {
		t.Errorf("len(tokens) = %d, want 3", len(tokens))
	}
}

func TestStore_Revoke(t *testing.T) {
	s := testTokenStore(t)

	token, secret, err := s.Create("doomed", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Revoke(token.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := s.Validate(secret); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Validate() after revoke error = %v, want ErrTokenNotFound", err)
	}
	if err := s.Revoke(token.ID); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Revoke() twice error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_SecretsAreUnique(t *testing.T) {
	s := testTokenStore(t)

	_, first, err := s.Create("a", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := s.Create("b", nil)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("two tokens share a secret")
	}
}

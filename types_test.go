package authbridge

import (
	"errors"
	"testing"
)

func TestNewUserNormalizesEmailAndUsername(t *testing.T) {
	u, err := NewUser(UserParams{Email: "  Jane.Doe@Example.COM ", Authorities: []string{"ROLE_USER", " ", ""}})
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if u.Email() != "jane.doe@example.com" {
		t.Fatalf("email not normalized: %q", u.Email())
	}
	if u.Username() != "jane.doe" {
		t.Fatalf("username should default to local part, got %q", u.Username())
	}
	if got := u.Authorities(); len(got) != 1 || got[0] != "ROLE_USER" {
		t.Fatalf("blank authorities should be dropped, got %v", got)
	}
}

func TestNewUserRejectsMalformedEmail(t *testing.T) {
	for _, email := range []string{"", "nobody", "@example.com", "a@", "a@b@c"} {
		if _, err := NewUser(UserParams{Email: email}); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", email, err)
		}
	}
}

func TestUserCopiesDoNotAlias(t *testing.T) {
	u, err := NewUser(UserParams{Email: "a@b.io", PasswordHash: "{pbkdf2}x", Authorities: []string{"ROLE_A"}})
	if err != nil {
		t.Fatalf("new user: %v", err)
	}

	u.Authorities()[0] = "ROLE_MUTATED"
	if u.Authorities()[0] != "ROLE_A" {
		t.Fatalf("authorities getter must return a copy")
	}

	linked, err := u.WithExternalID("ext-1")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if u.HasExternalLink() || !linked.HasExternalLink() {
		t.Fatalf("link must produce a new value only")
	}
	cleared := linked.WithoutPassword()
	if !linked.HasLegacyPassword() || cleared.HasLegacyPassword() {
		t.Fatalf("clear must produce a new value only")
	}
	if _, err := u.WithExternalID("  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank external id, got %v", err)
	}
}

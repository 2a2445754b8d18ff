package auth

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestInviteSignAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewInviteSigner("invite-secret", fixedClock(now))

	token, err := signer.Sign(InviteClaims{
		Email:  "y@example.com",
		NoteID: "note_1",
		RoleID: "editor",
		Exp:    now.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Email != "y@example.com" || claims.NoteID != "note_1" || claims.RoleID != "editor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Nonce == "" {
		t.Fatal("expected a nonce to be filled in")
	}
}

func TestInviteVerifyFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := NewInviteSigner("invite-secret", fixedClock(now))
	valid, err := signer.Sign(InviteClaims{Email: "a@b.c", NoteID: "n", RoleID: "viewer", Exp: now.Add(time.Minute).Unix()})
	if err != nil {
		t.Fatal(err)
	}
	expired, err := signer.Sign(InviteClaims{Email: "a@b.c", NoteID: "n", RoleID: "viewer", Exp: now.Unix()})
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "expired at boundary", token: expired, want: ErrExpiredToken},
		{name: "tampered payload", token: tampered, want: ErrInvalidToken},
		{name: "session shaped", token: parts[1] + "." + parts[2], want: ErrInvalidToken},
		{name: "garbage", token: "nope", want: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := signer.Verify(tc.token); err != tc.want {
				t.Fatalf("Verify() error = %v, want %v", err, tc.want)
			}
		})
	}

	other := NewInviteSigner("different", fixedClock(now))
	if _, err := other.Verify(valid); err != ErrInvalidToken {
		t.Fatalf("Verify() with foreign key error = %v", err)
	}
}

func TestRandomTokenIsOpaqueAndUnique(t *testing.T) {
	first, err := RandomToken()
	if err != nil {
		t.Fatal(err)
	}
	second, err := RandomToken()
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected distinct tokens")
	}
	if !strings.HasPrefix(first, "sl_") || strings.Contains(first, ".") {
		t.Fatalf("unexpected token shape %q", first)
	}
	if len(first) < 40 {
		t.Fatalf("token too short: %d", len(first))
	}
}

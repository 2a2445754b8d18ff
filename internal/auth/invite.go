package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const inviteTokenVersion = "inv1"

// InviteClaims are embedded in a signed invitation token.
type InviteClaims struct {
	Email  string `json:"email"`
	NoteID string `json:"note"`
	RoleID string `json:"role"`
	Nonce  string `json:"nonce"`
	Exp    int64  `json:"exp"`
}

// InviteSigner signs invitation tokens with its own key. Tokens have three
// dot-separated parts so they never parse as session tokens.
type InviteSigner struct {
	secret []byte
	now    func() time.Time
}

func NewInviteSigner(secret string, now func() time.Time) *InviteSigner {
	if now == nil {
		now = time.Now
	}
	return &InviteSigner{secret: []byte(secret), now: now}
}

func (s *InviteSigner) Sign(claims InviteClaims) (string, error) {
	if claims.Nonce == "" {
		nonce, err := randomString(12)
		if err != nil {
			return "", err
		}
		claims.Nonce = nonce
	}
	payload, err := encodePayload(claims)
	if err != nil {
		return "", err
	}
	signed := inviteTokenVersion + "." + payload
	return signed + "." + sign(s.secret, signed), nil
}

// Verify checks signature and expiry. It does not consult any server-side
// record.
func (s *InviteSigner) Verify(token string) (InviteClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != inviteTokenVersion {
		return InviteClaims{}, ErrInvalidToken
	}

	signed := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sign(s.secret, signed))) {
		return InviteClaims{}, ErrInvalidToken
	}
	var claims InviteClaims
	if err := decodePayload(parts[1], &claims); err != nil {
		return InviteClaims{}, err
	}
	if claims.Email == "" || claims.NoteID == "" || claims.RoleID == "" || claims.Exp == 0 {
		return InviteClaims{}, ErrInvalidToken
	}
	if s.now().Unix() >= claims.Exp {
		return InviteClaims{}, ErrExpiredToken
	}
	return claims, nil
}

// RandomToken returns an opaque share-link secret: a fixed prefix plus 32
// bytes from crypto/rand. It carries no structure and is only ever looked up
// by hash.
func RandomToken() (string, error) {
	value, err := randomString(32)
	if err != nil {
		return "", err
	}
	return "sl_" + value, nil
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

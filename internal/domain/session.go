package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// Principal is the identity snapshot carried inside every signed token.
// It is captured at issuance and may lag behind the user record until the
// next rotation. It never carries the password hash.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
}

// TokenPair holds an access and refresh token issued together for one principal.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionRecord is the stored, currently valid token pair of one user.
// Only SHA-256 digests of the tokens are persisted.
type SessionRecord struct {
	UserID           string    `json:"user_id"`
	AccessTokenHash  string    `json:"-"`
	RefreshTokenHash string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewSessionRecord builds the record persisted for pair.
func NewSessionRecord(userID string, pair *TokenPair, now time.Time) *SessionRecord {
	return &SessionRecord{
		UserID:           userID,
		AccessTokenHash:  HashToken(pair.AccessToken),
		RefreshTokenHash: HashToken(pair.RefreshToken),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// MatchesRefresh reports whether token is exactly the stored refresh token.
func (s *SessionRecord) MatchesRefresh(token string) bool {
	if s == nil || s.RefreshTokenHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.RefreshTokenHash), []byte(HashToken(token))) == 1
}

// HashToken returns the hex SHA-256 digest of token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

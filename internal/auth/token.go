package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenKeyLength is the length of the lookup prefix of an opaque token.
	TokenKeyLength = 8
	tokenBytes     = 32
)

// TokenVerifier accepts opaque tokens whose first TokenKeyLength characters
// identify a stored row holding a bcrypt digest of the whole token.
type TokenVerifier struct {
	db  database.ChatRepository
	now func() time.Time
}

func NewTokenVerifier(db database.ChatRepository) *TokenVerifier {
	return &TokenVerifier{db: db, now: time.Now}
}

func HashToken(token string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(digest), err
}

// Issue creates and stores a new token for userId. A zero ttl never expires.
func (v *TokenVerifier) Issue(ctx context.Context, userId int, ttl time.Duration) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	digest, err := HashToken(token)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}

	row := database.AuthToken{
		TokenKey:  token[:TokenKeyLength],
		Digest:    digest,
		UserId:    userId,
		CreatedAt: v.now(),
	}
	if ttl > 0 {
		row.Expiry = v.now().Add(ttl)
	}
	if err := v.db.CreateAuthToken(ctx, row); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

func (v *TokenVerifier) Resolve(ctx context.Context, credential string) (types.User, error) {
	if len(credential) < TokenKeyLength {
		return types.User{}, fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}

	row, err := v.db.GetAuthToken(ctx, credential[:TokenKeyLength])
	if errors.Is(err, database.ErrNotFound) {
		return types.User{}, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("load token: %w", err)
	}

	if !row.Expiry.IsZero() && !v.now().Before(row.Expiry) {
		return types.User{}, fmt.Errorf("%w: token expired", ErrUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.Digest), []byte(credential)); err != nil {
		return types.User{}, fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}

	return activeUser(ctx, v.db, row.UserId)
}

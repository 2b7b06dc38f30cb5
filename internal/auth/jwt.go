package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/types"
	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

// JWTVerifier accepts HS256 tokens carrying a "user-id" claim.
type JWTVerifier struct {
	db  database.ChatRepository
	key []byte
}

func NewJWTVerifier(db database.ChatRepository, key []byte) *JWTVerifier {
	return &JWTVerifier{db: db, key: key}
}

// IssueToken signs a token for userId that expires after ttl.
func (v *JWTVerifier) IssueToken(userId int, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(ttl).Unix(),
	})

	return token.SignedString(v.key)
}

func (v *JWTVerifier) Resolve(ctx context.Context, credential string) (types.User, error) {
	if credential == "" {
		return types.User{}, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}

	userId, err := v.userIdFromToken(credential)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}

	return activeUser(ctx, v.db, userId)
}

func (v *JWTVerifier) userIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}

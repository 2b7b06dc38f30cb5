// Package auth resolves connection credentials to users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/types"
)

const (
	ModeJWT   = "jwt"
	ModeToken = "token"
)

var ErrUnauthorized = errors.New("unauthorized")

// Verifier resolves a bearer credential to the user it belongs to. Any
// failure is reported as ErrUnauthorized.
type Verifier interface {
	Resolve(ctx context.Context, credential string) (types.User, error)
}

// NewVerifier returns the verifier for the given auth mode.
func NewVerifier(mode string, db database.ChatRepository, signingKey []byte) (Verifier, error) {
	switch mode {
	case ModeJWT, "":
		return NewJWTVerifier(db, signingKey), nil
	case ModeToken:
		return NewTokenVerifier(db), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// CredentialFromRequest returns the credential carried by r: the "token"
// query parameter, or else an "Authorization: Token <cred>" or
// "Authorization: Bearer <cred>" header.
func CredentialFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}

	scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
		return strings.TrimSpace(cred)
	}
	return ""
}

// activeUser loads userId and converts it to the identity handed to the chat
// core. Unknown or inactive accounts are unauthorized.
func activeUser(ctx context.Context, db database.ChatRepository, userId int) (types.User, error) {
	u, err := db.GetUserById(ctx, userId)
	if errors.Is(err, database.ErrNotFound) {
		return types.User{}, fmt.Errorf("%w: unknown user %d", ErrUnauthorized, userId)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return types.User{}, fmt.Errorf("%w: user %d is inactive", ErrUnauthorized, userId)
	}
	return ToUser(u), nil
}

func ToUser(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		IsActive:  u.IsActive,
		IsStaff:   u.IsStaff,
	}
}

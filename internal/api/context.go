package api

import (
	"context"

	"github.com/dxpcore/dxp-chat/internal/types"
)

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user resolved by the auth middleware.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

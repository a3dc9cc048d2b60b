package auth

import (
	"context"

	"github.com/platinummonkey/taskguard/pkg/contextkeys"
)

// WithUser stores the authenticated user snapshot in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	ctx = contextkeys.WithUser(ctx, u)
	return contextkeys.WithUserID(ctx, u.ID)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(contextkeys.UserKey).(*User)
	return u, ok && u != nil
}

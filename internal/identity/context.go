package identity

import "context"

type ctxKey string

const identityKey ctxKey = "booking.identity"

// Role gates which operations a caller may invoke.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProvider || r == RoleAdmin
}

// Identity is the verified acting user.
type Identity struct {
	UserID string
	Role   Role
}

// WithIdentity stores the acting user in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the acting user if present.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

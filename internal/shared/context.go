package shared

import "context"

// Role names carried in bearer tokens.
const (
	RoleAdmin = "ADM"
	RoleUser  = "USUARIO"
)

// Identity is the authenticated caller, produced by the auth middleware.
type Identity struct {
	UserID    int64
	Role      string
	ChurchIDs []int64
}

// IsAdmin reports whether the caller holds the administrator role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// BelongsTo reports whether the caller is attached to churchID.
func (i Identity) BelongsTo(churchID int64) bool {
	for _, id := range i.ChurchIDs {
		if id == churchID {
			return true
		}
	}
	return false
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

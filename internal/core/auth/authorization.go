package auth

// =============================================================================
// Ownership
// =============================================================================

// CanModify reports whether the caller may change a resource owned by
// ownerID. Unowned resources may be changed by any authenticated caller.
func CanModify(ctx Context, ownerID string) bool {
	if !ctx.Authenticated {
		return false
	}
	return ownerID == "" || ctx.UserID == ownerID
}

// RequireAuthentication returns false and a reason if the caller is
// anonymous.
func RequireAuthentication(ctx Context) (bool, string) {
	if !ctx.Authenticated {
		return false, "authentication required"
	}
	return true, ""
}

package auth

import "slices"

// Scopes gating the mutating render API routes.
const (
	ScopeSubmit  = "render:submit"
	ScopeCancel  = "render:cancel"
	ScopePresets = "render:presets"
)

// Identity is the caller a request was authenticated as.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Scopes  []string

	// Unrestricted identities pass every scope check. Tokens signed with the
	// shared secret are minted by the operator and carry no scopes.
	Unrestricted bool
}

// Allows reports whether the identity may act under scope.
func (id *Identity) Allows(scope string) bool {
	return id.Unrestricted || slices.Contains(id.Scopes, scope)
}

// Identity converts HMAC token claims.
func (c *LegacyClaims) Identity() *Identity {
	return &Identity{Subject: c.UserID, Email: c.Email, Unrestricted: true}
}

// Package auth authenticates API callers and binds them to treasury
// identities. Tokens are Ed25519-signed JWTs; the subject claim is the
// caller's identity string, which downstream handlers pass to the
// ledger and scheduler as-is.
package auth

import "github.com/Custodia-Systems/timevault/pkg/contracts"

// Principal is an authenticated caller.
type Principal interface {
	// Identity returns the treasury identity the caller acts as.
	Identity() contracts.Identity
	// Roles returns the caller's role names.
	Roles() []string
	// HasRole reports whether the caller carries the named role.
	HasRole(role string) bool
}

// BasePrincipal is the standard Principal implementation.
type BasePrincipal struct {
	ID        contracts.Identity
	RoleNames []string
}

func (b *BasePrincipal) Identity() contracts.Identity {
	return b.ID
}

func (b *BasePrincipal) Roles() []string {
	return b.RoleNames
}

func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.RoleNames {
		if r == role {
			return true
		}
	}
	return false
}

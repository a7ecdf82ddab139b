// SPDX-License-Identifier: MIT

// Package identity resolves caller tokens into product roles.
package identity

// Role classifies a connected user and selects their generation limits.
type Role string

const (
	// RoleAnonymous is assigned when no token is supplied or validation fails.
	RoleAnonymous Role = "anon"
	// RoleNormal is a regular authenticated user.
	RoleNormal Role = "normal"
	// RolePro is an authenticated user with a pro subscription.
	RolePro Role = "pro"
	// RoleAdmin is an operator account listed in the admin allowlist.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAnonymous, RoleNormal, RolePro, RoleAdmin:
		return true
	}
	return false
}

// Parse maps s onto a known role. Unknown values degrade to RoleAnonymous.
func Parse(s string) Role {
	r := Role(s)
	if r.Valid() {
		return r
	}
	return RoleAnonymous
}

func (r Role) String() string {
	return string(r)
}

package account

import "strings"

// Role is the portal role of a user
type Role string

const (
	RoleClient     Role = "client"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// User is the identity record returned by the auth endpoints and persisted
// alongside the bearer token. Unknown roles are kept verbatim and grant
// nothing.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsActive  *bool  `json:"is_active,omitempty"`
}

// Valid reports whether the record is structurally usable as a session identity
func (u *User) Valid() bool {
	return u != nil && strings.TrimSpace(u.ID) != ""
}

// IsAdmin is true for admin and super_admin
func (u *User) IsAdmin() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleSuperAdmin)
}

func (u *User) IsSuperAdmin() bool {
	return u != nil && u.Role == RoleSuperAdmin
}

func (u *User) IsClient() bool {
	return u != nil && u.Role == RoleClient
}

// HasRole reports whether the user holds any of roles
func (u *User) HasRole(roles ...Role) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// DisplayName returns "First Last" when known, then the email, then "User".
// A nil user is a "Guest".
func (u *User) DisplayName() string {
	if u == nil {
		return "Guest"
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.Email != "" {
		return u.Email
	}
	return "User"
}

// Clone returns an independent copy
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.IsActive != nil {
		active := *u.IsActive
		c.IsActive = &active
	}
	return &c
}

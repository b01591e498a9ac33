package auth

// SessionData represents the authenticated session context for a request
type SessionData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// HasRole reports whether the session's role is one of roles
func (s *SessionData) HasRole(roles ...string) bool {
	if s == nil {
		return false
	}
	for _, role := range roles {
		if s.Role == role {
			return true
		}
	}
	return false
}

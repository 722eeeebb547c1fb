package users

// User is the canonical user record. The password hash and API key never
// leave the backend; handlers return PublicUser instead.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	RoleID       string `json:"role_id,omitempty"` // empty until assigned
	APIKey       string `json:"-"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    int64  `json:"created_at"` // milliseconds since epoch
	UpdatedAt    int64  `json:"updated_at"`
}

// PublicUser is the safe projection of a User for untrusted output. Both
// the password hash and the API key are stripped.
type PublicUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	RoleID    string `json:"role_id,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Safe returns the public projection of the user
func (u *User) Safe() *PublicUser {
	return &PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		RoleID:    u.RoleID,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Update describes a partial mutation of a user record. Nil fields are left
// unchanged. Usernames are immutable; the API key changes only through
// RegenerateAPIKey.
type Update struct {
	Email        *string
	PasswordHash *string
	RoleID       *string
	IsActive     *bool
}

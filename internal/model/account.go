package model

type Account struct {
	Identifier string  `db:"identifier" json:"identifier"`
	Credential *string `db:"credential" json:"-"`
	Role       Role    `db:"role" json:"role"`
	Active     bool    `db:"active" json:"active"`
	CreatedAt  int64   `db:"created_at" json:"createdAt"`
	UpdatedAt  int64   `db:"updated_at" json:"updatedAt"`
}

// HasCredential reports whether the account finished a login handshake.
func (a *Account) HasCredential() bool {
	return a != nil && a.Credential != nil && *a.Credential != ""
}

func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

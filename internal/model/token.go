package model

import "time"

// MethodWildcard in an access token's allowed-method list grants every RPC
// method.
const MethodWildcard = "all"

// AccessToken is a bearer credential for the RPC surface. Secret is the
// presented bearer value; AllowedMethods lists the callable RPC methods.
type AccessToken struct {
	ID             int64
	UserID         int64
	Name           string
	Secret         string
	AllowedMethods []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

func (t *AccessToken) Deleted() bool {
	return t.DeletedAt != nil
}

// Allows reports whether the token may call method, honoring the wildcard.
func (t *AccessToken) Allows(method string) bool {
	for _, m := range t.AllowedMethods {
		if m == method || m == MethodWildcard {
			return true
		}
	}
	return false
}

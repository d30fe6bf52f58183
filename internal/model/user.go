package model

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Operator roles. Roles seed the allowed-method list of newly minted access
// tokens; authorization itself is checked against the token, not the role.
const (
	RoleUser         = "user"
	RoleAdmin        = "admin"
	RoleRoot         = "root"
	RolePlacesSource = "places_source"
	RoleEventManager = "event_manager"
)

// ValidRole reports whether r belongs to the closed role set.
func ValidRole(r string) bool {
	switch r {
	case RoleUser, RoleAdmin, RoleRoot, RolePlacesSource, RoleEventManager:
		return true
	}
	return false
}

// User is an operator account. Password holds an argon2id hash, never
// plaintext.
type User struct {
	ID        int64
	Name      string
	Password  string
	Roles     []string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// OsmUser mirrors a remote OSM account. ID is the upstream account id and
// OsmData the verbatim profile document.
type OsmUser struct {
	ID        int64
	OsmData   json.RawMessage
	Tags      Tags
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (u *OsmUser) Deleted() bool {
	return u.DeletedAt != nil
}

// DisplayName returns the upstream display name. Stub rows created from
// edit events carry only the short "user" field until the profile sync
// replaces them.
func (u *OsmUser) DisplayName() string {
	if name := gjson.GetBytes(u.OsmData, "display_name").String(); name != "" {
		return name
	}
	return gjson.GetBytes(u.OsmData, "user").String()
}

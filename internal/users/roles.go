package users

// Capability es un permiso nombrado.
type Capability string

const (
	CapCreateUsers  Capability = "create_users"
	CapPromoteUsers Capability = "promote_users"
	CapEditUsers    Capability = "edit_users"
)

// Roles por defecto.
const (
	RoleAdministrator = "administrator"
	RoleEditor        = "editor"
	RoleAuthor        = "author"
	RoleContributor   = "contributor"
	RoleSubscriber    = "subscriber"
)

// RoleTable mapea rol -> capacidades.
type RoleTable map[string][]Capability

// DefaultRoles es la tabla usada si no se configura otra.
var DefaultRoles = RoleTable{
	RoleAdministrator: {CapCreateUsers, CapPromoteUsers, CapEditUsers},
	RoleEditor:        {},
	RoleAuthor:        {},
	RoleContributor:   {},
	RoleSubscriber:    {},
}

// Exists reporta si el rol está definido.
func (t RoleTable) Exists(role string) bool {
	_, ok := t[role]
	return ok
}

// Can reporta si alguno de los roles de u otorga c.
func (t RoleTable) Can(u *User, c Capability) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		for _, have := range t[r] {
			if have == c {
				return true
			}
		}
	}
	return false
}

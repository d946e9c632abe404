package models

// Identity is the locally authenticated user. It exists only while a valid
// credential is held.
type Identity struct {
	ID       int64  `json:"id"`
	Role     string `json:"role"`
	FullName string `json:"full_name,omitempty"`
}

const (
	RoleStudent = "student"
	RoleTutor   = "tutor"
	RoleAdmin   = "admin"
)

// Same reports whether two identities refer to the same user. Two nil
// identities are the same; nil and non-nil are not.
func (i *Identity) Same(other *Identity) bool {
	if i == nil || other == nil {
		return i == nil && other == nil
	}
	return i.ID == other.ID
}

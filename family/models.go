package family

import "time"

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Family groups the guardians and children sharing one custody roster.
type Family struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Member enrolls one user in a family. A child belongs to exactly one
// family; guardianship is derived from parent members of the same family.
type Member struct {
	FamilyID string
	UserID   string
	Role     Role
	JoinedAt time.Time
}

package guard

// Role is a user's standing within a project.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleMember, RoleViewer:
		return true
	}
	return false
}

// CanEditTasks reports whether the role may create and update tasks.
func (r Role) CanEditTasks() bool { return r == RoleOwner || r == RoleMember }

// CanDeleteTask reports whether the role may delete a task.
//
// Note the asymmetry with CanDeleteProject: members may delete tasks but not
// the project itself. This mirrors the product's current policy; pending
// confirmation it stays as-is rather than being normalized.
func (r Role) CanDeleteTask() bool { return r == RoleOwner || r == RoleMember }

// CanDeleteProject reports whether the role may delete the whole project.
func (r Role) CanDeleteProject() bool { return r == RoleOwner }

// CanManageMembers reports whether the role may add or remove members.
func (r Role) CanManageMembers() bool { return r == RoleOwner || r == RoleMember }

package postgres

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Permissions       *PermissionRepository
	DirectPermissions *DirectPermissionRepository
	RoleGrants        *RoleGrantRepository
}

// NewRepositories wires all repositories backed by the provided executor.
func NewRepositories(exec pgExecutor) *Repositories {
	return &Repositories{
		Permissions:       NewPermissionRepository(exec),
		DirectPermissions: NewDirectPermissionRepository(exec),
		RoleGrants:        NewRoleGrantRepository(exec),
	}
}

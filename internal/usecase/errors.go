package usecase

import (
	"errors"
	"fmt"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

var (
	// ErrDuplicateCode indicates a permission with the same code already exists.
	ErrDuplicateCode = errors.New("permission code already exists")
	// ErrGrantConflict indicates the user already holds an active direct grant for the permission.
	ErrGrantConflict = errors.New("active direct permission already exists")
	// ErrImmutableField indicates an update attempted to change an identity attribute.
	ErrImmutableField = errors.New("field is immutable")
	// ErrForbidden indicates the operation is not allowed on the target.
	ErrForbidden = errors.New("operation forbidden")
	// ErrPermissionInUse indicates the permission is still referenced by direct grants.
	ErrPermissionInUse = fmt.Errorf("%w: permission is referenced by direct grants", ErrForbidden)
	// ErrInfrastructure wraps store, collaborator, cancellation and timeout failures.
	ErrInfrastructure = errors.New("authorization infrastructure failure")

	ErrInvalidPermissionCode = domain.ErrInvalidPermissionCode
	ErrInvalidEffect         = domain.ErrInvalidEffect
	ErrInvalidName           = errors.New("permission name is required")
	ErrExpiryInPast          = errors.New("expiry must be in the future")
	ErrInvalidArgument       = errors.New("invalid argument")
)

func immutableField(name string) error {
	return fmt.Errorf("%w: %s", ErrImmutableField, name)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

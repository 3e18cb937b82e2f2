// Package privilege reports whether the process may control services and
// write the agent state directory.
package privilege

import (
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
)

// Require returns an ErrCodeAdminRequired error when the process is not
// elevated.
func Require() error {
	ok, err := IsAdmin()
	if err != nil {
		return apperrors.New(apperrors.ErrCodeAdminRequired, "Require", "cannot determine privileges", err)
	}
	if !ok {
		return apperrors.New(apperrors.ErrCodeAdminRequired, "Require", "administrator privileges are required", nil)
	}
	return nil
}

// Personal.AI order the ending

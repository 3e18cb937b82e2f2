//go:build !windows

package privilege

import "os"

// IsAdmin reports whether the effective user is root.
func IsAdmin() (bool, error) {
	return os.Geteuid() == 0, nil
}

// Personal.AI order the ending

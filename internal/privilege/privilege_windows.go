//go:build windows

package privilege

import "golang.org/x/sys/windows"

// IsAdmin reports whether the process token is elevated.
func IsAdmin() (bool, error) {
	return windows.GetCurrentProcessToken().IsElevated(), nil
}

// Personal.AI order the ending

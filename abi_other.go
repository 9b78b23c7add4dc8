//go:build !unix

package zffi

import "fmt"

// KernelRelease returns the operating system family on non-unix targets.
func KernelRelease() string {
	return host.osName()
}

// ErrnoText returns a generic message for an errno value.
func ErrnoText(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("errno %d", n)
}

//go:build unix

package zffi

import (
	"golang.org/x/sys/unix"
)

// KernelRelease returns the running kernel's name and release, as uname -sr.
func KernelRelease() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return host.osName()
	}
	return unix.ByteSliceToString(u.Sysname[:]) + " " + unix.ByteSliceToString(u.Release[:])
}

// ErrnoText returns the system message for an errno value.
func ErrnoText(n int) string {
	if n == 0 {
		return ""
	}
	return unix.Errno(n).Error()
}

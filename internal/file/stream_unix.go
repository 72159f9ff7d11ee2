//go:build linux || darwin || freebsd

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// writeOnly reports whether fh was opened without read access.
func writeOnly(fh *os.File) bool {
	flags, err := unix.FcntlInt(fh.Fd(), unix.F_GETFL, 0)
	if err != nil {
		return false
	}
	return flags&unix.O_ACCMODE == unix.O_WRONLY
}

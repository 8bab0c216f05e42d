//go:build unix

// File: protocol/classify_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// benignErrnos lists connection reset/aborted/broken-pipe class errors.
var benignErrnos = map[syscall.Errno]string{
	unix.ECONNRESET:   "ECONNRESET",
	unix.ECONNABORTED: "ECONNABORTED",
	unix.EPIPE:        "EPIPE",
	unix.ESHUTDOWN:    "ESHUTDOWN",
}

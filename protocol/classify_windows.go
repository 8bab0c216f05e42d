//go:build windows

// File: protocol/classify_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// benignErrnos lists connection reset/aborted/broken-pipe class errors.
var benignErrnos = map[syscall.Errno]string{
	windows.WSAECONNRESET:         "WSAECONNRESET",
	windows.WSAECONNABORTED:       "WSAECONNABORTED",
	windows.ERROR_BROKEN_PIPE:     "ERROR_BROKEN_PIPE",
	windows.ERROR_NETNAME_DELETED: "ERROR_NETNAME_DELETED",
}

//go:build !unix && !windows

// File: protocol/classify_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "syscall"

// benignErrnos is empty where no socket errno table is known.
var benignErrnos = map[syscall.Errno]string{}

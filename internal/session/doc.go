// Package session
// Author: momentics <momentics@gmail.com>
//
// Registry of live connections, sharded by connection ID.
package session

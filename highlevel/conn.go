// File: highlevel/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Route parameter access for connections.

package highlevel

import (
	"slices"
	"strings"

	"github.com/momentics/duplexws/api"
)

// RouteParam represents a parameter in a route pattern
type RouteParam struct {
	Key   string
	Value string
}

// Param returns the route parameter captured under name, or "".
func Param(c api.Conn, name string) string {
	return c.Args()[name]
}

// AllParams returns every route parameter captured for c, sorted by key.
func AllParams(c api.Conn) []RouteParam {
	args := c.Args()
	out := make([]RouteParam, 0, len(args))
	for k, v := range args {
		out = append(out, RouteParam{Key: k, Value: v})
	}
	slices.SortFunc(out, func(a, b RouteParam) int { return strings.Compare(a.Key, b.Key) })
	return out
}

func paramMap(params []RouteParam) map[string]string {
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[p.Key] = p.Value
	}
	return m
}

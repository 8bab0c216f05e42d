// Package control
// Author: momentics <momentics@gmail.com>
//
// Ambient runtime layer for duplexws hosts: configuration loading, logger
// construction, connection metrics and debug introspection.
//
// Provides concurrent-safe state handling primitives including:
//   - Config files in TOML, YAML or JSON with validation
//   - zerolog loggers with rotating file output
//   - Metrics counters shared by connections and the host
//   - Named debug probes for state export
package control

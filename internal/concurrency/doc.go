// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for duplexws connections. SerialQueue executes
// submitted jobs strictly one at a time in submission order, which is what
// makes a transport whose write primitive is not reentrant safe to use from
// any number of goroutines. Future reports each job's outcome independently.
package concurrency

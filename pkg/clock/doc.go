// Package clock hides time-based scheduling behind a small interface.
//
// Production code uses System, optionally routed through a Loop with Serial
// so every callback runs on one goroutine, one at a time. Tests use Fake and
// advance virtual time synchronously.
package clock

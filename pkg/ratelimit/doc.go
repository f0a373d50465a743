// Package ratelimit provides the predicates a queue consults before each
// scheduled dequeue. A refusal defers consumption to the next tick.
package ratelimit

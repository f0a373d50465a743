// Package heartbeat provides a periodic (or single-shot) timer that can be
// started, stopped, paused and resumed, plus a registry for bulk control of
// every live timer.
//
// Timers are normally driven through a queue.Queue, but stand alone when a
// plain heartbeat is all that is needed.
package heartbeat

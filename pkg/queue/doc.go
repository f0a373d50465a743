// Package queue implements an ordered buffer of pending work drained at a
// fixed cadence by a heartbeat.Timer.
//
// A Queue is FIFO or LIFO. On each tick it pops the next item, optionally
// merging ("joining") it with similar items still waiting, and hands the
// result to a consumer. A rate limiter can defer a tick's dequeue until a
// later tick. With AutoStart the timer only runs while there is work, so idle
// queues cost nothing.
//
// Typical use, capping outstanding HTTP requests at three:
//
//	var active inflight.Counter
//	q := queue.New(queue.DefaultConfig(), queue.Hooks[*Update]{
//		Consume: send,
//		Join:    mergeSameTarget,
//		Limiter: ratelimit.MaxActive(&active, 3),
//	})
//	q.Add(u)
package queue

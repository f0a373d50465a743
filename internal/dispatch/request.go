// Package dispatch turns queued update requests into HTTP calls.
package dispatch

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is one pending update. A request that absorbed others through
// JoinSameURL stands for Merged of them.
type Request struct {
	ID       string
	Method   string
	URL      string
	Merged   int
	Attempts int
	Enqueued time.Time
}

// NewRequest returns a request for one update. An empty method means GET.
func NewRequest(method, url string) *Request {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		ID:       uuid.NewString(),
		Method:   method,
		URL:      url,
		Merged:   1,
		Enqueued: time.Now(),
	}
}

// Key identifies requests that may be merged.
func (r *Request) Key() string { return r.Method + " " + r.URL }

// JoinSameURL merges candidate into popped when both target the same method
// and URL; one call then covers both. popped keeps its ID.
func JoinSameURL(popped, candidate *Request) (*Request, bool) {
	if popped.Key() != candidate.Key() {
		return popped, false
	}
	merged := *popped
	merged.Merged += max(candidate.Merged, 1)
	if candidate.Enqueued.Before(merged.Enqueued) {
		merged.Enqueued = candidate.Enqueued
	}
	return &merged, true
}

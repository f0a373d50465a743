package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pacer/internal/eventbus"
	"pacer/pkg/inflight"
	logx "pacer/pkg/logx"
)

// Returner puts a failed request back at the head of its queue.
type Returner interface {
	ReturnItem(r *Request)
}

type Config struct {
	Timeout  time.Duration
	RetryMax int

	// Client defaults to an http.Client over http.DefaultTransport.
	// Its transport is wrapped so Active counts every call on the wire.
	Client *http.Client
	Bus    eventbus.Bus
	Logger logx.Logger
}

// Dispatcher sends requests handed over by queue consumers. Each send runs
// on its own goroutine so a tick never waits on the network.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	wire   inflight.Counter
	log    logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = logx.Nop()
	}
	d := &Dispatcher{cfg: cfg, log: cfg.Logger}
	client := http.Client{}
	if cfg.Client != nil {
		client = *cfg.Client
	}
	client.Transport = d.wire.Transport(client.Transport)
	client.Timeout = cfg.Timeout
	d.client = &client
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Active counts HTTP calls currently on the wire, across all queues.
func (d *Dispatcher) Active() int { return d.wire.Active() }

// Peak is the highest Active seen.
func (d *Dispatcher) Peak() int { return d.wire.Peak() }

// Lane is one queue's view of the dispatcher.
type Lane struct {
	Queue string
	// Active counts this queue's requests from hand-over until the outcome
	// is known; bind it to the queue's MaxActive limiter.
	Active  *inflight.Counter
	Returns Returner
	Breaker *Breaker
}

// Consumer returns the queue consumer for l.
//
// The request is counted in l.Active before the goroutine starts, so the
// very next tick already sees it.
func (d *Dispatcher) Consumer(l Lane) func(*Request) {
	if l.Active == nil {
		l.Active = &inflight.Counter{}
	}
	return func(r *Request) {
		done := l.Active.Begin()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer done()
			d.handle(l, r)
		}()
	}
}

func (d *Dispatcher) handle(l Lane, r *Request) {
	r.Attempts++
	start := time.Now()
	status, err := d.Send(d.ctx, r)
	took := time.Since(start)

	if errors.Is(err, context.Canceled) && d.ctx.Err() != nil {
		d.log.Debug("request abandoned on shutdown", logx.String("id", r.ID), logx.String("queue", l.Queue))
		return
	}
	l.Breaker.Record(err)

	retry := err != nil && !IsNoRetry(err) && r.Attempts <= d.cfg.RetryMax && l.Returns != nil
	fields := []logx.Field{
		logx.String("id", r.ID),
		logx.String("queue", l.Queue),
		logx.Int("status", status),
		logx.Int("merged", r.Merged),
		logx.Int("attempt", r.Attempts),
		logx.Duration("took", took),
	}
	switch {
	case err == nil:
		d.log.Debug("request done", fields...)
	case retry:
		d.log.Warn("request failed; re-queued", append(fields, logx.Err(err))...)
		l.Returns.ReturnItem(r)
	default:
		d.log.Error("request failed", append(fields, logx.Err(err))...)
	}

	if d.cfg.Bus != nil {
		ev := eventbus.RequestDone{
			ID:       r.ID,
			Queue:    l.Queue,
			URL:      r.URL,
			Status:   status,
			Merged:   r.Merged,
			Attempts: r.Attempts,
			Duration: took,
		}
		if err != nil {
			ev.Err = err.Error()
		}
		d.cfg.Bus.Publish(eventbus.Event{Type: eventbus.TypeRequestDone, Data: ev})
	}
}

// Send performs one HTTP call for r and classifies the outcome.
func (d *Dispatcher) Send(ctx context.Context, r *Request) (status int, err error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, nil)
	if err != nil {
		return 0, NoRetry(err)
	}
	req.Header.Set("X-Request-Id", r.ID)
	req.Header.Set("X-Pacer-Merged", strconv.Itoa(r.Merged))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, statusErr(resp.StatusCode)
}

// Stop cancels requests still on the wire and waits for their goroutines.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()
	return d.Drain(ctx)
}

// Drain waits for requests in flight without cancelling them.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

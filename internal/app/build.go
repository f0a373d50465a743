package app

import (
	"fmt"
	"strings"
	"time"

	"pacer/internal/config"
	"pacer/internal/dispatch"
	"pacer/internal/eventbus"
	"pacer/internal/feeder"
	"pacer/pkg/activity"
	"pacer/pkg/inflight"
	logx "pacer/pkg/logx"
	"pacer/pkg/queue"
	"pacer/pkg/ratelimit"
)

// lane is one configured queue and everything bound to it.
type lane struct {
	name    string
	q       *queue.Queue[*dispatch.Request]
	active  *inflight.Counter
	breaker *dispatch.Breaker
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	timeout, err := config.DurationOr("requests.timeout", cfg.Requests.Timeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{Timeout: timeout, RetryMax: cfg.Requests.RetryMax}, nil
}

func mapBreaker(cfg *config.Config, a *App) (*dispatch.Breaker, error) {
	trip := cfg.Requests.CircuitTrip
	if trip == 0 {
		trip = 5
	}
	cooldown, err := config.DurationOr("requests.circuit_cooldown", cfg.Requests.CircuitCooldown, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return dispatch.NewBreaker(trip, cooldown, a.base), nil
}

// buildLimiter combines the queue's limits. Counting limiters come first so
// token-consuming ones are only charged when the queue could dispatch anyway.
func buildLimiter(cfg *config.Config, path string, qc config.QueueConfig, active ratelimit.Counter, breaker *dispatch.Breaker) (ratelimit.Limiter, error) {
	maxActive := cfg.Requests.MaxActive
	if qc.Limit != nil && qc.Limit.MaxActive > 0 {
		maxActive = qc.Limit.MaxActive
	}
	ls := []ratelimit.Limiter{ratelimit.MaxActive(active, maxActive)}
	if breaker != nil {
		ls = append(ls, breaker)
	}
	if qc.Limit != nil {
		if qc.Limit.PerSecond > 0 {
			ls = append(ls, ratelimit.TokenBucket(qc.Limit.PerSecond, qc.Limit.Burst))
		}
		if len(qc.Limit.Windows) > 0 {
			w, err := config.Windows(path+".rate_limit.windows", qc.Limit.Windows)
			if err != nil {
				return nil, err
			}
			ls = append(ls, w)
		}
	}
	return ratelimit.All(ls...), nil
}

func (a *App) buildLane(cfg *config.Config, i int, qc config.QueueConfig) (*lane, error) {
	path := fmt.Sprintf("queues[%d]", i)
	every, err := config.ParseDurationField(path+".every", qc.Every)
	if err != nil {
		return nil, err
	}
	order, err := queue.ParseOrder(qc.Order)
	if err != nil {
		return nil, fmt.Errorf("%s.order: %w", path, err)
	}
	name := strings.TrimSpace(qc.Name)
	l := &lane{name: name, active: &inflight.Counter{}}
	if l.breaker, err = mapBreaker(cfg, a); err != nil {
		return nil, err
	}
	limit, err := buildLimiter(cfg, path, qc, l.active, l.breaker)
	if err != nil {
		return nil, err
	}

	// The consumer needs the queue for retries, so bind it after construction.
	var consume func(*dispatch.Request)
	hooks := queue.Hooks[*dispatch.Request]{
		Consume: func(r *dispatch.Request) { consume(r) },
		Limiter: limit,
	}
	if strings.TrimSpace(qc.Join) == "same_url" {
		hooks.Join = dispatch.JoinSameURL
	}
	l.q = queue.New(queue.Config{
		Name:          name,
		Every:         every,
		Order:         order,
		MaxJoin:       qc.MaxJoin,
		AutoStart:     qc.AutoStartEnabled(),
		ProcessAtOnce: qc.ProcessAtOnceEnabled(),
		Clock:         a.clock,
		Registry:      a.reg,
		Logger:        a.log.With(logx.String("comp", "queue")),
	}, hooks)
	consume = a.disp.Consumer(dispatch.Lane{Queue: name, Active: l.active, Returns: loopReturner{a: a, l: l}, Breaker: l.breaker})
	return l, nil
}

// bindObservers wires every queue to the activity monitor (when enabled) and
// to the event bus.
func (a *App) bindObservers(cfg *config.Config) error {
	if cfg.Activity.Enabled {
		every, err := config.DurationOr("activity.log_every", cfg.Activity.LogEvery, time.Second)
		if err != nil {
			return err
		}
		srcs := make([]activity.Source, 0, len(a.lanes))
		for _, l := range a.lanes {
			srcs = append(srcs, l.q)
		}
		a.monitor = activity.New(ratelimit.CounterFunc(a.activeTotal),
			activity.LogRenderer(a.log.With(logx.String("comp", "activity")), every), srcs...)
	}
	for _, l := range a.lanes {
		obs := queue.Observers{eventbus.QueueObserver(a.bus, l.name, l.q)}
		if a.monitor != nil {
			obs = append(queue.Observers{a.monitor}, obs...)
		}
		l.q.SetObserver(obs)
	}
	return nil
}

func (a *App) buildFeeders(cfg *config.Config) error {
	for _, fc := range cfg.Feeders {
		l := a.byName[strings.TrimSpace(fc.Queue)]
		if l == nil {
			return fmt.Errorf("feeder %s: unknown queue %q", fc.Name, fc.Queue)
		}
		err := a.feeders.Add(feeder.Spec{
			Name:     fc.Name,
			Schedule: fc.Schedule,
			URL:      fc.URL,
			Method:   fc.Method,
			Count:    fc.Count,
			Keys:     fc.Keys,
		}, a.sink(l))
		if err != nil {
			return err
		}
	}
	return nil
}

// sink hands produced requests to the loop so queues are only mutated there.
func (a *App) sink(l *lane) feeder.Sink {
	return feeder.SinkFunc(func(r *dispatch.Request) {
		if err := a.loop.Post(func() { l.q.Add(r) }); err != nil {
			a.log.Warn("request dropped", logx.String("queue", l.name), logx.String("id", r.ID), logx.Err(err))
		}
	})
}

func (a *App) activeTotal() int {
	n := 0
	for _, l := range a.lanes {
		n += l.active.Active()
	}
	return n
}

// loopReturner re-queues retries on the loop; dispatch goroutines never
// touch queues directly.
type loopReturner struct {
	a *App
	l *lane
}

func (r loopReturner) ReturnItem(req *dispatch.Request) {
	if err := r.a.loop.Post(func() { r.l.q.ReturnItem(req) }); err != nil {
		r.a.log.Warn("retry dropped", logx.String("queue", r.l.name), logx.String("id", req.ID), logx.Err(err))
	}
}

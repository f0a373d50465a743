package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"pacer/internal/admin"
	"pacer/internal/config"
	"pacer/internal/dispatch"
	"pacer/internal/eventbus"
	"pacer/internal/feeder"
	"pacer/internal/runtime/supervisor"
	"pacer/pkg/activity"
	"pacer/pkg/clock"
	"pacer/pkg/heartbeat"
	logx "pacer/pkg/logx"
	"pacer/pkg/queue"
	"pacer/pkg/systemd"
)

var ErrUnknownQueue = errors.New("unknown queue")

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sup  *supervisor.Supervisor

	loop  *clock.Loop
	base  clock.Clock
	clock clock.Clock
	reg   *heartbeat.Registry

	disp    *dispatch.Dispatcher
	feeders *feeder.Service
	monitor *activity.Monitor

	lanes  []*lane
	byName map[string]*lane
}

type options struct {
	base   clock.Clock
	reg    *heartbeat.Registry
	client *http.Client
}

type Option func(*options)

// WithClock replaces the wall clock timers are scheduled on.
func WithClock(c clock.Clock) Option { return func(o *options) { o.base = c } }

// WithRegistry registers queue timers in r instead of heartbeat.Default().
func WithRegistry(r *heartbeat.Registry) Option { return func(o *options) { o.reg = r } }

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{base: clock.System(), reg: heartbeat.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	dcfg.Bus = bus
	dcfg.Client = o.client
	dcfg.Logger = root.With(logx.String("comp", "dispatch"))

	loop := clock.NewLoop(cfg.Loop.Buffer)
	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		loop:    loop,
		base:    o.base,
		clock:   clock.Serial(o.base, loop),
		reg:     o.reg,
		disp:    dispatch.New(dcfg),
		feeders: feeder.New(root.With(logx.String("comp", "feeder"))),
		byName:  map[string]*lane{},
	}

	for i, qc := range cfg.Queues {
		l, err := a.buildLane(cfg, i, qc)
		if err != nil {
			a.closeQueues()
			return nil, err
		}
		a.lanes = append(a.lanes, l)
		a.byName[l.name] = l
	}
	if err := a.bindObservers(cfg); err != nil {
		a.closeQueues()
		return nil, err
	}
	if err := a.buildFeeders(cfg); err != nil {
		a.closeQueues()
		return nil, err
	}
	return a, nil
}

// Done is closed once the app stops or a supervised goroutine fails for good.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	// A panicking consumer unwinds the loop; restart it and keep draining.
	a.sup.GoRestart("loop", func(c context.Context) error {
		err := a.loop.Run(c)
		if errors.Is(err, clock.ErrLoopStopped) {
			return nil
		}
		return err
	}, supervisor.WithBackoff(50*time.Millisecond, 5*time.Second))

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("events", func(c context.Context) {
		defer unsub()
		a.watchEvents(c, events)
	})

	a.feeders.Start()

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	if ac := a.cfgm.Get().Admin; ac.Enabled {
		srv := admin.New(admin.Config{Addr: ac.Addr, Token: ac.Token}, a, a.sup.Snapshot,
			a.log.With(logx.String("comp", "admin")))
		a.sup.GoRestart("admin.http", srv.Serve, supervisor.WithBackoff(500*time.Millisecond, 10*time.Second))
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return systemd.Watchdog(c, a.log) })

	a.log.Info("app started", logx.Int("queues", len(a.lanes)), logx.Int("feeders", a.feeders.Len()))
	return nil
}

// watchEvents refreshes progress when requests finish (in-flight counts
// change without any queue mutation) and traces everything else.
func (a *App) watchEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == eventbus.TypeRequestDone && a.monitor != nil {
				_ = a.loop.Post(a.monitor.Update)
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

// Enqueue adds r to the named queue on the loop.
func (a *App) Enqueue(queueName string, r *dispatch.Request) error {
	l := a.byName[queueName]
	if l == nil {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queueName)
	}
	return a.loop.Post(func() { l.q.Add(r) })
}

// Queues returns per-queue stats sorted by name.
func (a *App) Queues() []queue.Stats {
	out := make([]queue.Stats, 0, len(a.lanes))
	for _, l := range a.lanes {
		out = append(out, l.q.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Queue returns the named queue, or nil.
func (a *App) Queue(name string) *queue.Queue[*dispatch.Request] {
	if l := a.byName[name]; l != nil {
		return l.q
	}
	return nil
}

// LogCounts reports warnings and errors logged so far.
func (a *App) LogCounts() logx.Counts { return a.logs.Counts() }

func (a *App) closeQueues() {
	for _, l := range a.lanes {
		l.q.Close()
	}
}

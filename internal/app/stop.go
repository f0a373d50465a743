package app

import (
	"context"
	"errors"
	"time"

	logx "pacer/pkg/logx"
)

const drainTimeout = 5 * time.Second

// Stop shuts down in dependency order: producers first, then queue timers,
// then in-flight requests, then the loop. Each step gets what is left of ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if reason == "" {
		reason = StopUnknown
	}
	start := time.Now()
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, fn func(context.Context) error) {
		t := time.Now()
		err := fn(ctx)
		fields := []logx.Field{logx.String("step", name), logx.Duration("took", time.Since(t))}
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
			a.log.Warn("stop step failed", append(fields, logx.Err(err))...)
			return
		}
		a.log.Debug("stop step done", fields...)
	}

	onLoop := func(f func()) func(context.Context) error {
		return func(c context.Context) error {
			if a.sup == nil {
				f()
				return nil
			}
			return a.loop.Do(c, f)
		}
	}

	step("feeders", a.feeders.Stop)
	// Paused timers stay paused through retries re-inserting work.
	step("timers.pause", onLoop(a.reg.PauseAll))
	step("dispatch.drain", func(c context.Context) error {
		dc, cancel := context.WithTimeout(c, drainTimeout)
		defer cancel()
		if err := a.disp.Drain(dc); err != nil && c.Err() == nil {
			a.log.Info("requests still in flight; cancelling", logx.Int("active", a.disp.Active()))
		}
		return nil
	})
	step("dispatch.cancel", a.disp.Stop)
	step("timers.stop", onLoop(a.reg.StopAll))
	a.loop.Close()
	if a.sup != nil {
		step("supervisor", a.sup.Stop)
	}
	a.closeQueues()
	if a.logs != nil {
		_ = a.logs.Close()
	}

	err := errors.Join(errs...)
	a.log.Info("stopped", logx.String("reason", string(reason)), logx.Duration("took", time.Since(start)), logx.Err(err))
	return err
}

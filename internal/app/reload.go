package app

import (
	"fmt"
	"slices"
	"strings"

	"pacer/internal/config"
	"pacer/internal/eventbus"
	logx "pacer/pkg/logx"
	"pacer/pkg/systemd"
)

// applyConfig applies the live part of a reload: logging and queue cadence.
// Everything else is reported and waits for a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	a.logs.Apply(mapLogConfig(next))

	for i, qc := range next.Queues {
		name := strings.TrimSpace(qc.Name)
		l := a.byName[name]
		if l == nil || !slices.Contains(ch.Retimed, name) {
			continue
		}
		every, err := config.ParseDurationField(fmt.Sprintf("queues[%d].every", i), qc.Every)
		if err != nil || every <= 0 {
			a.log.Warn("invalid queue cadence; keeping previous", logx.String("queue", name), logx.Err(err))
			continue
		}
		l.q.SetInterval(every)
		a.log.Info("queue cadence changed", logx.String("queue", name), logx.Duration("every", every))
	}

	if ch.RestartRequired() {
		a.log.Warn("config changes need a restart to take effect", ch.Fields()...)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: ch})
	a.log.Info("config reloaded", ch.Fields()...)
}

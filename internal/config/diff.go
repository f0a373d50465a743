package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pacer/pkg/logx"
)

// Change summarizes a reload for logging and for deciding what to apply live.
type Change struct {
	// Sections lists the top-level keys that differ, sorted.
	Sections []string
	// Retimed lists queues that exist in both configs with a new `every`.
	Retimed []string
	// Reshaped lists queues that were added, removed or changed in any way
	// other than `every`; those need a restart.
	Reshaped []string
	// FeedersChanged reports any feeder difference; feeders need a restart.
	FeedersChanged bool
}

// RestartRequired reports whether part of the change cannot be applied live.
func (c Change) RestartRequired() bool {
	if len(c.Reshaped) > 0 || c.FeedersChanged {
		return true
	}
	for _, s := range c.Sections {
		switch s {
		case "loop", "requests", "activity", "admin":
			return true
		}
	}
	return false
}

// Fields renders the change as log fields. URLs are never included.
func (c Change) Fields() []logx.Field {
	fs := []logx.Field{logx.String("changed", strings.Join(c.Sections, ","))}
	if len(c.Retimed) > 0 {
		fs = append(fs, logx.String("queues.retimed", strings.Join(c.Retimed, ",")))
	}
	if len(c.Reshaped) > 0 {
		fs = append(fs, logx.String("queues.reshaped", strings.Join(c.Reshaped, ",")))
	}
	if c.FeedersChanged {
		fs = append(fs, logx.Bool("feeders.changed", true))
	}
	return fs
}

// Diff compares two configs. Either may be nil.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change
	section := func(name string, differ bool) {
		if differ {
			c.Sections = append(c.Sections, name)
		}
	}
	section("logging", oldCfg.Logging != newCfg.Logging)
	section("loop", oldCfg.Loop != newCfg.Loop)
	section("requests", oldCfg.Requests != newCfg.Requests)
	section("activity", oldCfg.Activity != newCfg.Activity)
	section("admin", oldCfg.Admin != newCfg.Admin)
	section("feeders", !reflect.DeepEqual(oldCfg.Feeders, newCfg.Feeders))
	c.FeedersChanged = !reflect.DeepEqual(oldCfg.Feeders, newCfg.Feeders)

	oldQ := indexQueues(oldCfg.Queues)
	newQ := indexQueues(newCfg.Queues)
	for name, o := range oldQ {
		n, ok := newQ[name]
		if !ok {
			c.Reshaped = append(c.Reshaped, name)
			continue
		}
		everyChanged := strings.TrimSpace(o.Every) != strings.TrimSpace(n.Every)
		o.Every, n.Every = "", ""
		if !reflect.DeepEqual(o, n) {
			c.Reshaped = append(c.Reshaped, name)
		} else if everyChanged {
			c.Retimed = append(c.Retimed, name)
		}
	}
	for name := range newQ {
		if _, ok := oldQ[name]; !ok {
			c.Reshaped = append(c.Reshaped, name)
		}
	}
	sort.Strings(c.Retimed)
	sort.Strings(c.Reshaped)
	section("queues", len(c.Retimed) > 0 || len(c.Reshaped) > 0)
	sort.Strings(c.Sections)
	return c
}

func indexQueues(qs []QueueConfig) map[string]QueueConfig {
	m := make(map[string]QueueConfig, len(qs))
	for _, q := range qs {
		m[strings.TrimSpace(q.Name)] = q
	}
	return m
}

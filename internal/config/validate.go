package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pacer/pkg/ratelimit"
)

// ParseDurationField parses a non-negative duration; "" is zero.
// Errors name the field path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr is ParseDurationField with def substituted for zero.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Windows parses a rate_limit.windows block and builds its limiter.
func Windows(path string, raw map[string]int) (ratelimit.Limiter, error) {
	rates := make(map[time.Duration]int, len(raw))
	for w, n := range raw {
		d, err := ParseDurationField(fmt.Sprintf("%s[%s]", path, w), w)
		if err != nil {
			return nil, err
		}
		rates[d] = n
	}
	l, err := ratelimit.Windows(rates)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// CronParser accepts five-field specs plus descriptors like "@every 5s".
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// IsLoopback reports whether a host:port binds only to the loopback interface.
// An empty host means every interface.
func IsLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// Validate checks everything the daemon would otherwise fail on at runtime.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	addf := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if cfg.Loop.Buffer < 0 {
		addf("loop.buffer must be >= 0")
	}
	if cfg.Requests.MaxActive < 0 {
		addf("requests.max_active must be >= 0")
	}
	if cfg.Requests.RetryMax < 0 {
		addf("requests.retry_max must be >= 0")
	}
	_, err := ParseDurationField("requests.timeout", cfg.Requests.Timeout)
	add(err)
	_, err = ParseDurationField("requests.circuit_cooldown", cfg.Requests.CircuitCooldown)
	add(err)
	_, err = ParseDurationField("activity.log_every", cfg.Activity.LogEvery)
	add(err)

	if a := cfg.Admin; a.Enabled && a.Addr != "" {
		if _, _, err := net.SplitHostPort(a.Addr); err != nil {
			addf("admin.addr: %w", err)
		} else if a.Token == "" && !a.AllowInsecure && !IsLoopback(a.Addr) {
			addf("admin.addr %q is not loopback; set admin.token or admin.allow_insecure", a.Addr)
		}
	}

	names := map[string]bool{}
	for i, q := range cfg.Queues {
		p := fmt.Sprintf("queues[%d]", i)
		name := strings.TrimSpace(q.Name)
		switch {
		case name == "":
			addf("%s.name is required", p)
		case names[name]:
			addf("%s.name: duplicate queue %q", p, name)
		default:
			names[name] = true
		}

		every, err := ParseDurationField(p+".every", q.Every)
		add(err)
		if err == nil && every <= 0 {
			addf("%s.every must be > 0", p)
		}
		switch strings.ToLower(strings.TrimSpace(q.Order)) {
		case "", "fifo", "lifo", "filo":
		default:
			addf("%s.order: unknown order %q", p, q.Order)
		}
		switch strings.TrimSpace(q.Join) {
		case "", "same_url":
		default:
			addf("%s.join: unknown join %q", p, q.Join)
		}
		if q.Limit != nil {
			lp := p + ".rate_limit"
			if q.Limit.MaxActive < 0 {
				addf("%s.max_active must be >= 0", lp)
			}
			if q.Limit.PerSecond < 0 {
				addf("%s.per_second must be >= 0", lp)
			}
			if q.Limit.Burst < 0 {
				addf("%s.burst must be >= 0", lp)
			}
			if len(q.Limit.Windows) > 0 {
				_, err := Windows(lp+".windows", q.Limit.Windows)
				add(err)
			}
		}
	}

	for i, f := range cfg.Feeders {
		p := fmt.Sprintf("feeders[%d]", i)
		if strings.TrimSpace(f.Name) == "" {
			addf("%s.name is required", p)
		}
		if !names[strings.TrimSpace(f.Queue)] {
			addf("%s.queue: unknown queue %q", p, f.Queue)
		}
		if _, err := CronParser.Parse(f.Schedule); err != nil {
			addf("%s.schedule: %w", p, err)
		}
		if u, err := url.Parse(f.URL); err != nil || u.Scheme == "" || u.Host == "" {
			addf("%s.url: absolute http(s) URL required, got %q", p, f.URL)
		}
		if f.Count <= 0 {
			addf("%s.count must be > 0", p)
		}
		if f.Keys < 0 {
			addf("%s.keys must be >= 0", p)
		}
	}
	return errors.Join(errs...)
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging: {level: debug, console: true}
requests: {max_active: 3, timeout: 5s, retry_max: 1}
queues:
  - name: updates
    every: 100ms
    order: lifo
    auto_start: false
    join: same_url
    rate_limit:
      max_active: 2
      windows: {1s: 5, 1m: 100}
feeders:
  - name: burst
    queue: updates
    schedule: "@every 5s"
    url: http://127.0.0.1:8080/update
    count: 10
    keys: 3
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseFileYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "pacer.yaml", sampleYAML)

	cfg, err := ParseFile(p)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	q := cfg.Queues[0]
	if q.Name != "updates" || q.Order != "lifo" || q.AutoStartEnabled() {
		t.Fatalf("queue = %+v", q)
	}
	if q.Limit == nil || q.Limit.Windows["1m"] != 100 {
		t.Fatalf("rate_limit = %+v", q.Limit)
	}
	if cfg.Feeders[0].Keys != 3 {
		t.Fatalf("feeder = %+v", cfg.Feeders[0])
	}
}

func TestParseFileJSONStrict(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "ok", body: `{"queues":[{"name":"a","every":"1s"}]}`},
		{name: "unknown field", body: `{"queues":[{"name":"a","every":"1s","speed":3}]}`, wantErr: "unknown field"},
		{name: "trailing", body: `{} {}`, wantErr: "trailing data"},
	}
	for _, tc := range cases {
		p := writeFile(t, dir, tc.name+".json", tc.body)
		_, err := ParseFile(p)
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: err = %v, want %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestQueueFlagDefaults(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name              string
		queue             string
		autoStart, atOnce bool
	}{
		{"omitted", `{"name": "q", "every": "1s"}`, true, true},
		{"explicit false", `{"name": "q", "every": "1s", "auto_start": false, "process_at_once": false}`, false, false},
		{"explicit true", `{"name": "q", "every": "1s", "auto_start": true, "process_at_once": true}`, true, true},
		{"mixed", `{"name": "q", "every": "1s", "process_at_once": false}`, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode([]byte(`{"queues": [` + tc.queue + `]}`))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			q := cfg.Queues[0]
			if q.AutoStartEnabled() != tc.autoStart || q.ProcessAtOnceEnabled() != tc.atOnce {
				t.Fatalf("auto_start=%v process_at_once=%v, want %v %v", q.AutoStartEnabled(), q.ProcessAtOnceEnabled(), tc.autoStart, tc.atOnce)
			}
		})
	}
}

func TestValidateReportsFieldPaths(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Requests: RequestsConfig{Timeout: "soon"},
		Queues: []QueueConfig{
			{Name: "a", Every: "0s"},
			{Name: "a", Every: "1s", Order: "random", Join: "by_color"},
			{Name: "b", Every: "1s", Limit: &RateLimitConfig{Windows: map[string]int{"1s": 10, "1m": 5}}},
		},
		Feeders: []FeederConfig{{Name: "f", Queue: "missing", Schedule: "not cron", URL: "/relative"}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{
		"requests.timeout",
		"queues[0].every must be > 0",
		"queues[1].name: duplicate",
		"queues[1].order",
		"queues[1].join",
		"queues[2].rate_limit.windows",
		"feeders[0].queue",
		"feeders[0].schedule",
		"feeders[0].url",
		"feeders[0].count",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Second, false},
		{"0s", time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"fast", 0, true},
	}
	for _, tc := range cases {
		got, err := DurationOr("x", tc.raw, time.Second)
		if (err != nil) != tc.wantErr || (!tc.wantErr && got != tc.want) {
			t.Fatalf("DurationOr(%q) = %v, %v", tc.raw, got, err)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	old := &Config{
		Logging: LoggingConfig{Level: "info"},
		Queues: []QueueConfig{
			{Name: "a", Every: "1s"},
			{Name: "b", Every: "1s"},
			{Name: "c", Every: "1s"},
		},
	}
	next := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Queues: []QueueConfig{
			{Name: "a", Every: "2s"},
			{Name: "b", Every: "1s", Order: "lifo"},
			{Name: "d", Every: "1s"},
		},
	}
	c := Diff(old, next)
	if strings.Join(c.Sections, ",") != "logging,queues" {
		t.Fatalf("sections = %v", c.Sections)
	}
	if strings.Join(c.Retimed, ",") != "a" {
		t.Fatalf("retimed = %v", c.Retimed)
	}
	if strings.Join(c.Reshaped, ",") != "b,c,d" {
		t.Fatalf("reshaped = %v", c.Reshaped)
	}
	if !c.RestartRequired() {
		t.Fatalf("reshaped queues should require a restart")
	}

	live := Diff(old, &Config{Logging: old.Logging, Queues: []QueueConfig{
		{Name: "a", Every: "5s"}, {Name: "b", Every: "1s"}, {Name: "c", Every: "1s"},
	}})
	if live.RestartRequired() {
		t.Fatalf("a cadence change applies live: %+v", live)
	}
	if len(Diff(old, old).Sections) != 0 {
		t.Fatalf("identical configs reported a change")
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "pacer.json", `{"queues":[{"name":"a","every":"1s"}]}`)

	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	// Whitespace-only edit.
	writeFile(t, dir, "pacer.json", `{ "queues": [ {"name":"a", "every":"1s"} ] }`)
	if changed, err := m.Reload(ctx); err != nil || changed {
		t.Fatalf("Reload = %v, %v; want unchanged", changed, err)
	}

	writeFile(t, dir, "pacer.json", `{"queues":[{"name":"a","every":"0s"}]}`)
	if _, err := m.Reload(ctx); err == nil {
		t.Fatalf("invalid config was accepted")
	}
	if m.Get().Queues[0].Every != "1s" {
		t.Fatalf("rejected config was committed")
	}

	writeFile(t, dir, "pacer.json", `{"queues":[{"name":"a","every":"2s"}]}`)
	if changed, err := m.Reload(ctx); err != nil || !changed {
		t.Fatalf("Reload = %v, %v; want changed", changed, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Queues[0].Every != "2s" {
			t.Fatalf("published %+v", cfg.Queues[0])
		}
	default:
		t.Fatalf("reload was not published")
	}
}

func TestManagerPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	sub := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-sub; got != second {
		t.Fatalf("slow subscriber should see the newest config")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("unsubscribe should close the channel")
	}
}

func TestManagerLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "pacer.json", `{"queues":[{"name":"","every":"1s"}]}`)
	m := NewManager(p)
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("Load err = %v", err)
	}
	if m.Get() != nil {
		t.Fatalf("rejected config committed")
	}
}

func TestManagerWatchPublishesEdits(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "pacer.json", `{"queues":[{"name":"a","every":"1s"}]}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(10 * time.Second)
	retry := time.NewTicker(500 * time.Millisecond)
	defer retry.Stop()
	writeFile(t, dir, "pacer.json", `{"queues":[{"name":"a","every":"3s"}]}`)
	for {
		select {
		case cfg := <-sub:
			if cfg.Queues[0].Every != "3s" {
				t.Fatalf("published %+v", cfg.Queues[0])
			}
			return
		case <-retry.C:
			// The watcher may not have been registered for the first write.
			writeFile(t, dir, "pacer.json", `{"queues":[{"name":"a","every":"3s"}]}`)
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}

func TestValidateAdminBind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		admin   AdminConfig
		wantErr bool
	}{
		{"disabled public", AdminConfig{Addr: "0.0.0.0:6060"}, false},
		{"default addr", AdminConfig{Enabled: true}, false},
		{"loopback", AdminConfig{Enabled: true, Addr: "127.0.0.1:6060"}, false},
		{"localhost", AdminConfig{Enabled: true, Addr: "localhost:6060"}, false},
		{"public", AdminConfig{Enabled: true, Addr: "0.0.0.0:6060"}, true},
		{"all interfaces", AdminConfig{Enabled: true, Addr: ":6060"}, true},
		{"public with token", AdminConfig{Enabled: true, Addr: ":6060", Token: "s"}, false},
		{"public insecure", AdminConfig{Enabled: true, Addr: ":6060", AllowInsecure: true}, false},
		{"bad addr", AdminConfig{Enabled: true, Addr: "nope"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&Config{Admin: tc.admin})
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

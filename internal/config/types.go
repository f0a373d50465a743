package config

// Config is the daemon configuration file (JSON or YAML).
//
// Durations are Go duration strings ("100ms", "5s"). Unknown keys are rejected.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Loop     LoopConfig     `json:"loop"`
	Requests RequestsConfig `json:"requests"`
	Activity ActivityConfig `json:"activity"`
	Admin    AdminConfig    `json:"admin"`
	Queues   []QueueConfig  `json:"queues"`
	Feeders  []FeederConfig `json:"feeders,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"` // console as JSON lines
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoopConfig sizes the serial loop every timer callback runs on.
type LoopConfig struct {
	Buffer int `json:"buffer,omitempty"` // default 1024
}

// RequestsConfig controls the HTTP dispatcher shared by all queues.
type RequestsConfig struct {
	// MaxActive is the default per-queue cap on in-flight requests (default 4).
	MaxActive int    `json:"max_active,omitempty"`
	Timeout   string `json:"timeout,omitempty"` // default 10s
	RetryMax  int    `json:"retry_max,omitempty"`
	// CircuitTrip consecutive failures pause a queue's dequeues for
	// CircuitCooldown, doubling while failures continue. 0 means 5; < 0 disables.
	CircuitTrip     int    `json:"circuit_trip,omitempty"`
	CircuitCooldown string `json:"circuit_cooldown,omitempty"` // default 5s
}

type ActivityConfig struct {
	Enabled  bool   `json:"enabled"`
	LogEvery string `json:"log_every,omitempty"` // default 1s
}

// AdminConfig controls the optional local HTTP endpoint serving queue stats
// and pprof. Non-loopback addresses need Token or AllowInsecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// QueueConfig declares one throttled queue.
type QueueConfig struct {
	Name  string `json:"name"`
	Every string `json:"every"`
	// Order is "fifo" (default) or "lifo".
	Order string `json:"order,omitempty"`
	// AutoStart defaults to true when omitted.
	AutoStart *bool `json:"auto_start,omitempty"`
	// ProcessAtOnce defaults to true when omitted.
	ProcessAtOnce *bool `json:"process_at_once,omitempty"`
	// Join is "" (no merging) or "same_url".
	Join    string           `json:"join,omitempty"`
	MaxJoin int              `json:"max_join,omitempty"`
	Limit   *RateLimitConfig `json:"rate_limit,omitempty"`
}

// AutoStartEnabled resolves the AutoStart default.
func (q QueueConfig) AutoStartEnabled() bool {
	return q.AutoStart == nil || *q.AutoStart
}

// ProcessAtOnceEnabled resolves the ProcessAtOnce default.
func (q QueueConfig) ProcessAtOnceEnabled() bool {
	return q.ProcessAtOnce == nil || *q.ProcessAtOnce
}

// RateLimitConfig combines limiters; a dequeue needs all of them to allow.
type RateLimitConfig struct {
	// MaxActive caps in-flight requests from this queue; 0 uses requests.max_active.
	MaxActive int     `json:"max_active,omitempty"`
	PerSecond float64 `json:"per_second,omitempty"`
	Burst     int     `json:"burst,omitempty"`
	// Windows maps a window ("1m") to the events allowed within it.
	Windows map[string]int `json:"windows,omitempty"`
}

// FeederConfig is a cron-scheduled producer of synthetic requests.
type FeederConfig struct {
	Name     string `json:"name"`
	Queue    string `json:"queue"`
	Schedule string `json:"schedule"`
	URL      string `json:"url"`
	Method   string `json:"method,omitempty"` // default GET
	// Count requests are enqueued per run, spread over Keys distinct URLs.
	Count int `json:"count"`
	Keys  int `json:"keys,omitempty"`
}

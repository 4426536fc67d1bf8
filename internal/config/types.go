package config

// Config is the whole file. YAML and JSON are both accepted; unknown keys
// are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2500s").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Storage    StorageConfig    `json:"storage"`
	HTTP       HTTPConfig       `json:"http"`
	KPI        KPIConfig        `json:"kpi"`
	Report     ReportConfig     `json:"report"`
	Jobs       []JobConfig      `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger side.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone, IANA name or "Local".
	Timezone string `json:"timezone,omitempty"`
	// SweepEvery is how often expired schedules are disabled. Default "1m";
	// "0s" turns the periodic sweep off.
	SweepEvery string `json:"sweep_every,omitempty"`
}

// TaskEngineConfig controls the execution side.
//
// Enabled is a pointer so an omitted key follows scheduler.enabled.
//
// Defaults:
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "2500s"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the trigger store.
//
//	storage: {driver: sqlite, path: data/tracksched.db}
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the API server. run_now_* rate-limit the run-now
// endpoints.
type HTTPConfig struct {
	Enabled     bool    `json:"enabled"`
	Addr        string  `json:"addr,omitempty"` // default ":8080"
	RunNowRPS   float64 `json:"run_now_rps,omitempty"`
	RunNowBurst int     `json:"run_now_burst,omitempty"`
	Pprof       bool    `json:"pprof,omitempty"`
}

// KPIConfig names the systems and methods the leg classifier looks for.
// Empty fields keep the built-in identity.
type KPIConfig struct {
	InternalSystem string `json:"internal_system,omitempty"`
	Hub            string `json:"hub,omitempty"`
	ReadMethod     string `json:"read_method,omitempty"`
	WriteMethod    string `json:"write_method,omitempty"`
}

type ReportConfig struct {
	TimeLimit string         `json:"time_limit,omitempty"` // default "10m"
	Expires   string         `json:"expires,omitempty"`    // default "300s"
	Delivery  DeliveryConfig `json:"delivery"`
}

// DeliveryConfig controls the report outbox. Disabled means reports are
// handed to the sink inline by the report job.
//
// Defaults: workers 2, queue_size 64, rate_per_sec 3, retry_max 3,
// retry_base "500ms", retry_max_delay "10s", dedup_window "10m".
type DeliveryConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"` // negative disables retries
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// JobConfig declares or overrides one crawler command.
type JobConfig struct {
	Name      string            `json:"name"`
	Category  string            `json:"category,omitempty"`
	Command   string            `json:"command"`
	Dir       string            `json:"dir,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeLimit string            `json:"time_limit,omitempty"`
}

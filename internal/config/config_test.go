package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging: {level: info, console: true, file: {enabled: false, path: ""}}
scheduler: {enabled: true, timezone: "UTC", sweep_every: "1m"}
task_engine: {workers: 4, queue_size: 64, default_timeout: "2500s"}
storage: {driver: sqlite, path: "data/tracksched.db", busy_timeout: "5s"}
http: {enabled: true, addr: ":8080", run_now_rps: 2, run_now_burst: 4}
kpi: {internal_system: tracking, hub: TMDB}
report: {time_limit: "10m", expires: "300s"}
jobs:
  - name: bct_imports
    category: Import
    command: "python -m crawlers bct"
    env: {PORTAL: bct}
    time_limit: "2500s"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "1m", cfg.Scheduler.SweepEvery)
	assert.Nil(t, cfg.TaskEngine.Enabled)
	assert.Equal(t, 4, cfg.TaskEngine.Workers)
	assert.Equal(t, 2.0, cfg.HTTP.RunNowRPS)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "bct", cfg.Jobs[0].Env["PORTAL"])
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode("config.yaml", []byte("scheduler: {enabled: true, workers: 3}\n"))
	assert.Error(t, err)

	_, err = Decode("config.json", []byte(`{"scheduler":{"enabled":true}} {"x":1}`))
	assert.Error(t, err)

	cfg, err := Decode("config.yaml", []byte(""))
	require.NoError(t, err)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestValidate(t *testing.T) {
	off := false
	cases := map[string]func(c *Config){
		"timezone":       func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"workers":        func(c *Config) { c.TaskEngine.Workers = -1 },
		"engine off":     func(c *Config) { c.TaskEngine.Enabled = &off },
		"duration":       func(c *Config) { c.Report.Expires = "soon" },
		"negative":       func(c *Config) { c.Scheduler.SweepEvery = "-1m" },
		"driver":         func(c *Config) { c.Storage.Driver = "postgres" },
		"job no command": func(c *Config) { c.Jobs = []JobConfig{{Name: "x"}} },
		"job duplicate":  func(c *Config) { c.Jobs = []JobConfig{{Name: "x", Command: "a"}, {Name: "x", Command: "b"}} },
		"job category":   func(c *Config) { c.Jobs = []JobConfig{{Name: "x", Command: "a", Category: "Email"}} },
		"job time limit": func(c *Config) { c.Jobs = []JobConfig{{Name: "x", Command: "a", TimeLimit: "1 hour"}} },
		"negative rps":   func(c *Config) { c.HTTP.RunNowRPS = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Decode("config.yaml", []byte(sampleYAML))
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
	assert.NoError(t, Validate(&Config{Scheduler: SchedulerConfig{Timezone: "Local"}}))
}

func TestSummarizeChange(t *testing.T) {
	a, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _, restart := SummarizeChange(a, b)
	assert.Empty(t, changed)
	assert.Empty(t, restart)

	b.Scheduler.Timezone = "America/Chicago"
	b.TaskEngine.Workers = 8
	b.Storage.Path = "other.db"
	b.Jobs = append(b.Jobs, JobConfig{Name: "cn_imports", Command: "python -m crawlers cn"})
	changed, attrs, restart := SummarizeChange(a, b)
	assert.Equal(t, []string{"jobs", "scheduler", "storage", "task_engine"}, changed)
	assert.Equal(t, []string{"jobs", "storage"}, restart)
	assert.NotEmpty(t, attrs)
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", sampleYAML)

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// let the watcher register before writing
	time.Sleep(200 * time.Millisecond)

	writeFile(t, dir, "config.yaml", "scheduler: {timezone: [broken\n")
	writeFile(t, dir, "config.yaml", sampleYAML+"\n# touch\n")
	time.Sleep(400 * time.Millisecond)
	select {
	case <-sub:
		t.Fatal("unchanged content must not be published")
	default:
	}

	updated := `scheduler: {enabled: true, timezone: "America/Chicago"}` + "\n"
	writeFile(t, dir, "config.yaml", updated)

	select {
	case got := <-sub:
		assert.Equal(t, "America/Chicago", got.Scheduler.Timezone)
		assert.Same(t, got, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	m := NewManager("unused.yaml")
	sub := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-sub)
	m.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
}

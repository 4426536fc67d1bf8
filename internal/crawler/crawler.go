// Package crawler turns configured command lines into registry jobs. Each
// run is a child process bound to the job context, so an exhausted budget
// kills it.
package crawler

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"tracksched/internal/jobs"
	"tracksched/internal/schedule"
	"tracksched/pkg/logx"
)

const (
	waitDelay  = 5 * time.Second
	maxCapture = 8 << 10
	envPrefix  = "TRACKSCHED_"
)

// Sites in the default catalogue. Each becomes "<site>_imports".
var Sites = []string{
	"bct", "bpt", "csx", "csx_nashville", "vaports", "gpa",
	"nsrr", "sgrt", "uprr", "cn", "sc", "bnsf",
}

// Command describes one external crawler.
type Command struct {
	Name      string
	Category  schedule.Category
	Command   string
	Dir       string
	Env       map[string]string
	TimeLimit time.Duration
}

// DefaultCatalog lists the stock crawlers, run as "python -m crawlers <site>".
func DefaultCatalog() []Command {
	out := make([]Command, 0, len(Sites))
	for _, s := range Sites {
		out = append(out, Command{
			Name:     s + "_imports",
			Category: schedule.Import,
			Command:  "python -m crawlers " + s,
		})
	}
	return out
}

// Merge overlays configured commands on the defaults by name. Order is by
// name so registry listings stay stable.
func Merge(base, override []Command) []Command {
	byName := make(map[string]Command, len(base)+len(override))
	for _, c := range base {
		byName[c.Name] = c
	}
	for _, c := range override {
		byName[c.Name] = c
	}
	out := make([]Command, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Specs parses every command line up front so a bad entry fails startup
// rather than the first run.
func Specs(cmds []Command, log logx.Logger) ([]jobs.Spec, error) {
	log = log.With(logx.Component("crawler"))
	out := make([]jobs.Spec, 0, len(cmds))
	for _, c := range cmds {
		s, err := c.spec(log)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (c Command) spec(log logx.Logger) (jobs.Spec, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return jobs.Spec{}, errors.New("crawler: empty name")
	}
	argv, err := shellquote.Split(c.Command)
	if err != nil {
		return jobs.Spec{}, errors.Wrapf(err, "crawler %s: parse command", name)
	}
	if len(argv) == 0 {
		return jobs.Spec{}, errors.Newf("crawler %s: empty command", name)
	}
	cat := c.Category
	if cat == "" {
		cat = schedule.Import
	}
	r := &runner{name: name, argv: argv, dir: c.Dir, env: flattenEnv(c.Env), log: log.With(logx.Job(name))}
	return jobs.Spec{Name: name, Category: cat, TimeLimit: c.TimeLimit, Run: r.run}, nil
}

type runner struct {
	name string
	argv []string
	dir  string
	env  []string
	log  logx.Logger
}

func (r *runner) run(ctx context.Context, p jobs.Params) error {
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), r.env...)
	cmd.Env = append(cmd.Env, envPrefix+"JOB="+r.name)
	cmd.Env = append(cmd.Env, paramEnv(p)...)
	cmd.WaitDelay = waitDelay

	out := &tailBuffer{max: maxCapture}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.log.Warn("crawler killed", logx.Duration("took", took), logx.Err(ctxErr))
		return errors.Wrapf(ctxErr, "crawler %s", r.name)
	}
	if err != nil {
		tail := strings.TrimSpace(out.String())
		r.log.Warn("crawler failed", logx.Duration("took", took), logx.Err(err), logx.String("output", tail))
		return errors.Wrapf(err, "crawler %s: %s", r.name, lastLine(tail))
	}
	r.log.Debug("crawler done", logx.Duration("took", took))
	return nil
}

func flattenEnv(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// paramEnv exposes dispatch params as TRACKSCHED_PARAM_<KEY>.
func paramEnv(p jobs.Params) []string {
	out := make([]string, 0, len(p))
	for k, v := range p {
		out = append(out, envPrefix+"PARAM_"+strings.ToUpper(k)+"="+v)
	}
	sort.Strings(out)
	return out
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if len(p) > t.max {
		p = p[len(p)-t.max:]
	}
	if over := t.buf.Len() + len(p) - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

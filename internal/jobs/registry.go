// Package jobs resolves job names to runnable handles and dispatches them
// to the task engine under a hard time budget.
package jobs

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"tracksched/internal/schedule"
)

// ErrUnknownJob is returned for names that are not registered. Callers must
// not retry it.
var ErrUnknownJob = errors.New("unknown job")

// Params carry per-run arguments. Crawler jobs ignore them; report jobs
// read their recipients and date range from them.
type Params map[string]string

type Func func(ctx context.Context, p Params) error

// Spec declares a job: its registry key, category and time limit.
type Spec struct {
	Name      string
	Category  schedule.Category
	TimeLimit time.Duration
	Run       Func
}

// Registry is built once at startup and never mutated, so it is safe to
// share without locking.
type Registry struct {
	specs map[string]Spec
	names []string
}

func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		s.Name = strings.TrimSpace(s.Name)
		switch {
		case s.Name == "":
			return nil, errors.New("job name required")
		case s.Run == nil:
			return nil, errors.Newf("job %q has no Run func", s.Name)
		}
		if _, dup := r.specs[s.Name]; dup {
			return nil, errors.Newf("job %q registered twice", s.Name)
		}
		r.specs[s.Name] = s
		r.names = append(r.names, s.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Resolve returns the handle registered under name.
func (r *Registry) Resolve(name string) (Handle, error) {
	s, ok := r.specs[strings.TrimSpace(name)]
	if !ok {
		return Handle{}, errors.WithHint(
			errors.Wrapf(ErrUnknownJob, "%q", name),
			"registered jobs are listed by `tracksched jobs`")
	}
	return Handle{spec: s}, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.specs[name]
	return ok
}

// Names returns the registered keys in sorted order.
func (r *Registry) Names() []string { return append([]string(nil), r.names...) }

func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.specs[n])
	}
	return out
}

// Handle is a resolved job, optionally bound to run parameters.
type Handle struct {
	spec   Spec
	params Params
}

func (h Handle) Name() string                { return h.spec.Name }
func (h Handle) Category() schedule.Category { return h.spec.Category }
func (h Handle) TimeLimit() time.Duration    { return h.spec.TimeLimit }
func (h Handle) Params() Params              { return h.params }

// With returns a copy of h bound to p.
func (h Handle) With(p Params) Handle {
	h.params = p
	return h
}

func (h Handle) run(ctx context.Context) error {
	return h.spec.Run(ctx, h.params)
}

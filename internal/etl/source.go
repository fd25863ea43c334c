package etl

import (
	"context"

	"github.com/rotisserie/eris"
)

// Result is what a source reports for one run. Transient counts per-item
// fetch failures that were absorbed; Gaps counts items skipped because the
// upstream payload lacked required data. Neither fails the run.
type Result struct {
	Fetched   int   `json:"fetched"`
	Loaded    int64 `json:"loaded"`
	Transient int   `json:"transient_errors"`
	Gaps      int   `json:"gaps"`
}

// Add folds another result into this one.
func (r *Result) Add(other Result) {
	r.Fetched += other.Fetched
	r.Loaded += other.Loaded
	r.Transient += other.Transient
	r.Gaps += other.Gaps
}

// Source is one upstream adapter. An error returned from Run is fatal to the
// whole run; per-item trouble belongs in the Result counters instead.
type Source interface {
	Name() string
	Run(ctx context.Context, session *Session) (*Result, error)
}

// Registry maps source names to their implementations, preserving
// registration order so runs are deterministic.
type Registry struct {
	sources map[string]Source
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source. Registering the same name twice is a programming
// error and panics.
func (r *Registry) Register(s Source) {
	if _, ok := r.sources[s.Name()]; ok {
		panic("etl: duplicate source " + s.Name())
	}
	r.sources[s.Name()] = s
	r.order = append(r.order, s.Name())
}

// Select returns sources by name in registration order; an empty filter
// selects all of them.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		out := make([]Source, 0, len(r.order))
		for _, name := range r.order {
			out = append(out, r.sources[name])
		}
		return out, nil
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := r.sources[name]; !ok {
			return nil, eris.Errorf("etl: unknown source %q", name)
		}
		want[name] = true
	}

	out := make([]Source, 0, len(want))
	for _, name := range r.order {
		if want[name] {
			out = append(out, r.sources[name])
		}
	}
	return out, nil
}

// Names returns all registered source names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

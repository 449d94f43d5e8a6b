// Package loadtest drives concurrent operations through the orchestrator.
//
// Each simulated user creates a project, adds subtasks, comments on it and
// moves it through statuses, while the live subscriptions keep replacing
// the same cache collections. Afterwards the cache is compared against the
// remote store to check that no operation result was lost or duplicated.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/orchestrator"
)

// Config sizes a run.
type Config struct {
	Users           int
	ProjectsPerUser int
	StepsPerProject int

	// Seed makes the operation mix reproducible.
	Seed int64
}

// LatencyStats captures per-operation latency.
type LatencyStats struct {
	Op     string        `json:"op" yaml:"op"`
	Count  int           `json:"count" yaml:"count"`
	Errors int           `json:"errors" yaml:"errors"`
	Min    time.Duration `json:"min" yaml:"min"`
	Mean   time.Duration `json:"mean" yaml:"mean"`
	P50    time.Duration `json:"p50" yaml:"p50"`
	P95    time.Duration `json:"p95" yaml:"p95"`
	P99    time.Duration `json:"p99" yaml:"p99"`
	Max    time.Duration `json:"max" yaml:"max"`
}

// Result summarizes a run.
type Result struct {
	Elapsed    time.Duration  `json:"elapsed" yaml:"elapsed"`
	Operations int            `json:"operations" yaml:"operations"`
	Errors     int            `json:"errors" yaml:"errors"`
	PerOp      []LatencyStats `json:"perOp" yaml:"perOp"`
	Projects   []string       `json:"-" yaml:"-"`
}

// Throughput returns completed operations per second.
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Operations) / r.Elapsed.Seconds()
}

type sample struct {
	op  string
	d   time.Duration
	err error
}

// Run executes the workload on e. Every simulated user acts through the
// engine's orchestrator, so they share its signed-in identity.
func Run(ctx context.Context, e *engine.Engine, cfg Config) (*Result, error) {
	if cfg.Users <= 0 || cfg.ProjectsPerUser <= 0 {
		return nil, fmt.Errorf("loadtest needs at least one user and one project per user")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		samples  []sample
		projects []string
	)
	record := func(s []sample, ids []string) {
		mu.Lock()
		defer mu.Unlock()
		samples = append(samples, s...)
		projects = append(projects, ids...)
	}

	start := time.Now()
	for i := 0; i < cfg.Users; i++ {
		wg.Add(1)
		go func(user int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(user)))
			s, ids := simulateUser(ctx, e, user, cfg, rng)
			record(s, ids)
		}(i)
	}
	wg.Wait()

	res := &Result{Elapsed: time.Since(start), Projects: projects}
	byOp := make(map[string][]sample)
	for _, s := range samples {
		byOp[s.op] = append(byOp[s.op], s)
		res.Operations++
		if s.err != nil {
			res.Errors++
		}
	}
	ops := make([]string, 0, len(byOp))
	for op := range byOp {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		res.PerOp = append(res.PerOp, computeLatencyStats(op, byOp[op]))
	}
	return res, nil
}

func simulateUser(ctx context.Context, e *engine.Engine, user int, cfg Config, rng *rand.Rand) ([]sample, []string) {
	var samples []sample
	var ids []string
	timed := func(op string, fn func() error) error {
		start := time.Now()
		err := fn()
		samples = append(samples, sample{op: op, d: time.Since(start), err: err})
		return err
	}
	statuses := []model.ProjectStatus{model.ProjectInProgress, model.ProjectReview, model.ProjectTesting, model.ProjectDone}

	for p := 0; p < cfg.ProjectsPerUser; p++ {
		var project *model.Project
		err := timed(orchestrator.OpCreateProject, func() error {
			var err error
			project, err = e.Ops.CreateProject(ctx, aggregate.NewProject{
				Title:      fmt.Sprintf("Load %d-%d", user, p),
				AssignedTo: e.UserID(),
			}).Wait(ctx)
			return err
		})
		if err != nil {
			continue
		}
		ids = append(ids, project.ID)

		for step := 0; step < cfg.StepsPerProject; step++ {
			switch rng.Intn(3) {
			case 0:
				_ = timed(orchestrator.OpAddSubTask, func() error {
					_, err := e.Ops.AddSubTask(ctx, project.ID, fmt.Sprintf("Step %d", step)).Wait(ctx)
					return err
				})
			case 1:
				_ = timed(orchestrator.OpAddComment, func() error {
					_, err := e.Ops.AddComment(ctx, e.Ops.Actor(), project.ID, fmt.Sprintf("note %d", step)).Wait(ctx)
					return err
				})
			default:
				status := statuses[rng.Intn(len(statuses))]
				_ = timed(orchestrator.OpUpdateProjectStatus, func() error {
					_, err := e.Ops.UpdateProjectStatus(ctx, project.ID, status).Wait(ctx)
					return err
				})
			}
		}
	}
	return samples, ids
}

// VerifyConsistency checks that every project the run created is in the
// cache and matches the remote copy's embedded counts.
func VerifyConsistency(ctx context.Context, e *engine.Engine, res *Result) error {
	for _, id := range res.Projects {
		stored, err := e.Repo.Projects.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("project %s: %w", id, err)
		}
		cached, ok := e.Cache.Get(cache.Projects, id)
		if !ok {
			return fmt.Errorf("project %s missing from cache", id)
		}
		p := cached.(*model.Project)
		if len(p.SubTasks) != len(stored.SubTasks) || len(p.Comments) != len(stored.Comments) {
			return fmt.Errorf("project %s diverged: cache has %d subtasks/%d comments, store has %d/%d",
				id, len(p.SubTasks), len(p.Comments), len(stored.SubTasks), len(stored.Comments))
		}
	}
	return nil
}

func computeLatencyStats(op string, samples []sample) LatencyStats {
	st := LatencyStats{Op: op, Count: len(samples)}
	if len(samples) == 0 {
		return st
	}

	sorted := make([]time.Duration, len(samples))
	var sum time.Duration
	for i, s := range samples {
		sorted[i] = s.d
		sum += s.d
		if s.err != nil {
			st.Errors++
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	st.Min = sorted[0]
	st.Max = sorted[len(sorted)-1]
	st.Mean = sum / time.Duration(len(sorted))
	st.P50 = sorted[len(sorted)*50/100]
	st.P95 = sorted[len(sorted)*95/100]
	st.P99 = sorted[len(sorted)*99/100]
	return st
}

// PrintStats writes a latency table.
func (r *Result) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Operations: %d (%d errors) in %v, %.1f ops/s\n\n",
		r.Operations, r.Errors, r.Elapsed.Round(time.Millisecond), r.Throughput())
	fmt.Fprintf(w, "%-24s %6s %6s %10s %10s %10s %10s\n", "op", "count", "errors", "p50", "p95", "p99", "max")
	for _, s := range r.PerOp {
		fmt.Fprintf(w, "%-24s %6d %6d %10v %10v %10v %10v\n",
			s.Op, s.Count, s.Errors,
			s.P50.Round(time.Microsecond), s.P95.Round(time.Microsecond),
			s.P99.Round(time.Microsecond), s.Max.Round(time.Microsecond))
	}
}

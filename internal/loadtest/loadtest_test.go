package loadtest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/orchestrator"
	"github.com/mschirtzinger/tracksync/internal/remote/memstore"
	"github.com/sirupsen/logrus"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	mem, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	e, err := engine.New(context.Background(), mem, engine.Options{
		UserID:     "U1",
		CloseStore: mem.Close,
		Logger:     log,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRun(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := Run(ctx, e, Config{Users: 4, ProjectsPerUser: 3, StepsPerProject: 5, Seed: 42})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Errors != 0 {
		t.Errorf("Run() had %d errors", res.Errors)
	}
	if got, want := res.Operations, 4*3*(1+5); got != want {
		t.Errorf("Operations = %d, want %d", got, want)
	}
	if len(res.Projects) != 12 {
		t.Errorf("created %d projects, want 12", len(res.Projects))
	}
	if n := len(e.Cache.Collection(cache.Projects)); n != 12 {
		t.Errorf("cache holds %d projects, want 12", n)
	}
	if err := VerifyConsistency(ctx, e, res); err != nil {
		t.Errorf("VerifyConsistency() error = %v", err)
	}

	var creates *LatencyStats
	for i := range res.PerOp {
		if res.PerOp[i].Op == orchestrator.OpCreateProject {
			creates = &res.PerOp[i]
		}
	}
	if creates == nil || creates.Count != 12 {
		t.Fatalf("create stats = %+v", creates)
	}
	if creates.Min > creates.P50 || creates.P50 > creates.Max {
		t.Errorf("percentiles out of order: %+v", creates)
	}

	var buf bytes.Buffer
	res.PrintStats(&buf)
	if !strings.Contains(buf.String(), orchestrator.OpCreateProject) {
		t.Errorf("PrintStats() output missing create row:\n%s", buf.String())
	}
}

func TestRunValidates(t *testing.T) {
	if _, err := Run(context.Background(), newEngine(t), Config{}); err == nil {
		t.Error("Run() with empty config succeeded")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var samples []sample
	for i := 1; i <= 100; i++ {
		samples = append(samples, sample{op: "x", d: time.Duration(i) * time.Millisecond})
	}
	st := computeLatencyStats("x", samples)
	if st.Min != time.Millisecond || st.Max != 100*time.Millisecond {
		t.Errorf("min/max = %v/%v", st.Min, st.Max)
	}
	if st.P50 != 51*time.Millisecond || st.P99 != 100*time.Millisecond {
		t.Errorf("p50/p99 = %v/%v", st.P50, st.P99)
	}
	if st.Mean != 50500*time.Microsecond {
		t.Errorf("mean = %v", st.Mean)
	}
}

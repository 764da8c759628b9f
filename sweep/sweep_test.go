package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"escrowflow/milestone"
)

type fakeReleaser struct {
	mu       sync.Mutex
	ids      []string
	failWith map[string]error
	released []string
}

func (f *fakeReleaser) ListAutoReleasable(_ context.Context, _ time.Time, limit int) ([]string, error) {
	if len(f.ids) > limit {
		return f.ids[:limit], nil
	}
	return f.ids, nil
}

func (f *fakeReleaser) AutoRelease(_ context.Context, id string) (milestone.Milestone, error) {
	if err, ok := f.failWith[id]; ok {
		return milestone.Milestone{}, err
	}
	f.mu.Lock()
	f.released = append(f.released, id)
	f.mu.Unlock()
	return milestone.Milestone{ID: id, Status: milestone.StatusReleased}, nil
}

func TestSweepOnce_ReleasesBatch(t *testing.T) {
	releaser := &fakeReleaser{ids: []string{"m1", "m2", "m3"}}
	s := New(releaser, Options{BatchSize: 10, Concurrency: 2}, zerolog.Nop())

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 releases, got %d", n)
	}
	if len(releaser.released) != 3 {
		t.Fatalf("expected 3 released ids, got %v", releaser.released)
	}
}

func TestSweepOnce_SkipsLostRaces(t *testing.T) {
	releaser := &fakeReleaser{
		ids: []string{"m1", "m2", "m3"},
		failWith: map[string]error{
			"m2": milestone.ErrInvalidState,
		},
	}
	s := New(releaser, Options{BatchSize: 10, Concurrency: 2}, zerolog.Nop())

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 releases with one skip, got %d", n)
	}
}

func TestSweepOnce_PropagatesHardFailures(t *testing.T) {
	boom := errors.New("pool exhausted")
	releaser := &fakeReleaser{
		ids:      []string{"m1", "m2"},
		failWith: map[string]error{"m1": boom},
	}
	s := New(releaser, Options{BatchSize: 10, Concurrency: 1}, zerolog.Nop())

	if _, err := s.SweepOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected hard failure to propagate, got %v", err)
	}
}

func TestSweepOnce_HonorsBatchSize(t *testing.T) {
	releaser := &fakeReleaser{ids: []string{"m1", "m2", "m3", "m4"}}
	s := New(releaser, Options{BatchSize: 2, Concurrency: 2}, zerolog.Nop())

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected batch of 2, got %d", n)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	releaser := &fakeReleaser{}
	s := New(releaser, Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

package indicator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"klinecore/internal/model"
)

// fakeLoop collects posted completions so tests control when they run.
type fakeLoop struct {
	mu    sync.Mutex
	queue []func()
}

func (l *fakeLoop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
}

func (l *fakeLoop) drain() int {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range q {
		fn()
	}
	return len(q)
}

type recorded struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorded) ObserveIndicator(name, outcome string, d time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func bars(n int) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		out[i] = model.Bar{Timestamp: int64(i+1) * 60_000, Close: float64(100 + i), Volume: 10}
	}
	return out
}

func stateRecorder(inst *Instance) *[]State {
	var states []State
	inst.OnDataStateChange = func(c StateChange) { states = append(states, c.State) }
	return &states
}

func TestScheduler_ReadyRequestsLayout(t *testing.T) {
	loop := &fakeLoop{}
	var readyPanes []string
	rec := &recorded{}
	s := NewScheduler(quietLog(), loop.post, func(p string) { readyPanes = append(readyPanes, p) }, rec)

	inst := NewInstance(maTemplate(), "candle_pane", []float64{3})
	states := stateRecorder(inst)

	s.Submit(inst, bars(5), model.LoadInit)
	if inst.State() != StateLoading {
		t.Fatalf("expected loading right after submit, got %v", inst.State())
	}
	s.Wait()
	loop.drain()

	if inst.State() != StateReady {
		t.Fatalf("expected ready, got %v", inst.State())
	}
	if len(inst.Result()) != 5 {
		t.Fatalf("expected 5 results, got %d", len(inst.Result()))
	}
	if v, ok := inst.Result()[4]["ma1"]; !ok || v != 103 {
		t.Errorf("expected ma1=103 at index 4, got %v (ok=%v)", v, ok)
	}
	if _, ok := inst.Result()[1]["ma1"]; ok {
		t.Error("ma1 should be absent before the period fills")
	}
	if len(readyPanes) != 1 || readyPanes[0] != "candle_pane" {
		t.Errorf("expected one layout request for candle_pane, got %v", readyPanes)
	}
	if got := *states; len(got) != 2 || got[0] != StateLoading || got[1] != StateReady {
		t.Errorf("expected [loading ready], got %v", got)
	}
	if s.Pending() != 0 {
		t.Errorf("expected no pending tasks, got %d", s.Pending())
	}
}

func TestScheduler_ErrorDoesNotRequestLayout(t *testing.T) {
	loop := &fakeLoop{}
	layouts := 0
	s := NewScheduler(quietLog(), loop.post, func(string) { layouts++ }, nil)

	failing := Template{
		Name: "FAIL",
		Calc: func(context.Context, []model.Bar, []float64) ([]Result, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
	inst := NewInstance(failing, "p", nil)
	s.Submit(inst, bars(3), model.LoadBackward)
	s.Wait()
	loop.drain()

	if inst.State() != StateError {
		t.Fatalf("expected error state, got %v", inst.State())
	}
	if inst.Err() == nil {
		t.Error("expected error to be kept on the instance")
	}
	if layouts != 0 {
		t.Errorf("expected no layout on error, got %d", layouts)
	}
}

func TestScheduler_ResubmitSupersedes(t *testing.T) {
	loop := &fakeLoop{}
	rec := &recorded{}
	s := NewScheduler(quietLog(), loop.post, nil, rec)

	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	tmpl := Template{
		Name: "SLOW",
		Calc: func(ctx context.Context, b []model.Bar, _ []float64) ([]Result, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				// ignores cancellation and finishes successfully late
				<-release
			}
			return make([]Result, len(b)), nil
		},
	}
	inst := NewInstance(tmpl, "p", nil)
	readyCount := 0
	inst.OnDataStateChange = func(c StateChange) {
		if c.State == StateReady {
			readyCount++
		}
	}

	s.Submit(inst, bars(2), model.LoadInit)
	s.Submit(inst, bars(4), model.LoadBackward)
	close(release)
	s.Wait()
	loop.drain()

	if readyCount != 1 {
		t.Fatalf("expected exactly one ready notification, got %d", readyCount)
	}
	if len(inst.Result()) != 4 {
		t.Errorf("expected the newer task's result (4 bars), got %d", len(inst.Result()))
	}
	stale := 0
	for _, o := range rec.outcomes {
		if o == "stale" {
			stale++
		}
	}
	if stale != 1 {
		t.Errorf("expected one stale completion, got %d", stale)
	}
}

func TestScheduler_SupersededTaskIsCancelled(t *testing.T) {
	loop := &fakeLoop{}
	s := NewScheduler(quietLog(), loop.post, nil, nil)

	cancelled := make(chan struct{}, 1)
	var first sync.Once
	tmpl := Template{
		Name: "WAIT",
		Calc: func(ctx context.Context, b []model.Bar, _ []float64) ([]Result, error) {
			isFirst := false
			first.Do(func() { isFirst = true })
			if isFirst {
				<-ctx.Done()
				cancelled <- struct{}{}
				return nil, ctx.Err()
			}
			return make([]Result, len(b)), nil
		},
	}
	inst := NewInstance(tmpl, "p", nil)
	errors := 0
	inst.OnDataStateChange = func(c StateChange) {
		if c.State == StateError {
			errors++
		}
	}

	s.Submit(inst, bars(1), model.LoadInit)
	s.Submit(inst, bars(1), model.LoadUpdate)
	s.Wait()
	loop.drain()

	select {
	case <-cancelled:
	default:
		t.Fatal("expected the first computation's context to be cancelled")
	}
	if errors != 0 {
		t.Errorf("a superseded failure must not mark the indicator as error, got %d", errors)
	}
	if inst.State() != StateReady {
		t.Errorf("expected ready, got %v", inst.State())
	}
}

func TestScheduler_CancelDiscardsCompletion(t *testing.T) {
	loop := &fakeLoop{}
	layouts := 0
	s := NewScheduler(quietLog(), loop.post, func(string) { layouts++ }, nil)

	inst := NewInstance(emaTemplate(), "p", nil)
	s.Submit(inst, bars(30), model.LoadInit)
	s.Cancel("p", "EMA")
	s.Wait()
	loop.drain()

	if layouts != 0 {
		t.Errorf("expected no layout after cancel, got %d", layouts)
	}
	if inst.State() == StateReady {
		t.Error("cancelled task must not mark the instance ready")
	}
}

func TestScheduler_KeysAreIndependent(t *testing.T) {
	loop := &fakeLoop{}
	var panes []string
	s := NewScheduler(quietLog(), loop.post, func(p string) { panes = append(panes, p) }, nil)

	a := NewInstance(maTemplate(), "pane_a", nil)
	b := NewInstance(maTemplate(), "pane_b", nil)
	s.Submit(a, bars(10), model.LoadInit)
	s.Submit(b, bars(10), model.LoadInit)
	s.Wait()
	loop.drain()

	if len(panes) != 2 {
		t.Fatalf("expected both panes to complete, got %v", panes)
	}
}

func TestScheduler_ParamsChangedWhileComputing(t *testing.T) {
	loop := &fakeLoop{}
	s := NewScheduler(quietLog(), loop.post, nil, nil)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	seen := make(chan float64, 8)
	var first sync.Once
	tmpl := Template{
		Name: "SLOW",
		Calc: func(ctx context.Context, b []model.Bar, params []float64) ([]Result, error) {
			first.Do(func() {
				started <- struct{}{}
				<-release
			})
			seen <- params[0]
			out := make([]Result, len(b))
			for i := range out {
				out[i] = Result{"p": params[0]}
			}
			return out, nil
		},
	}
	inst := NewInstance(tmpl, "p", []float64{1})

	s.Submit(inst, bars(3), model.LoadInit)
	<-started
	// the loop rewrites params in place and resubmits while the first run is blocked
	inst.Params[0] = 99
	for i := 2; i <= 20; i++ {
		inst.Params = []float64{float64(i)}
		s.Submit(inst, bars(3), model.LoadUpdate)
	}
	close(release)
	s.Wait()
	loop.drain()

	close(seen)
	var got []float64
	for v := range seen {
		got = append(got, v)
	}
	if len(got) != 20 {
		t.Fatalf("expected 20 computations, got %d", len(got))
	}
	for _, v := range got {
		if v == 99 {
			t.Error("a running computation observed a params write made after it was submitted")
		}
	}
	if inst.State() != StateReady {
		t.Fatalf("expected ready, got %v", inst.State())
	}
	if r := inst.Result(); len(r) != 3 || r[2]["p"] != 20 {
		t.Errorf("expected the last submission's params in the result, got %v", r)
	}
}

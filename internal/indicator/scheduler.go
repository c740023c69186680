package indicator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"klinecore/internal/model"
)

// Poster hands a function to the engine's event loop. Completions of
// indicator computations re-enter the engine only through it.
type Poster func(fn func())

// Recorder observes computation outcomes ("ready", "error", "stale").
type Recorder interface {
	ObserveIndicator(name, outcome string, d time.Duration)
}

type taskKey struct {
	paneID string
	name   string
}

type task struct {
	gen    uint64
	cancel context.CancelFunc
}

// Scheduler sequences indicator recomputation per (pane, indicator) key.
// A resubmission for a key supersedes the pending task: the old computation's
// context is cancelled and its completion is discarded by generation check.
//
// Submit, Cancel and completions run on the event loop; only the calc itself
// runs on its own goroutine.
type Scheduler struct {
	log      *slog.Logger
	post     Poster
	onReady  func(paneID string)
	recorder Recorder

	gen   uint64
	tasks map[taskKey]*task
	wg    sync.WaitGroup
}

// NewScheduler creates a Scheduler. onReady is called on the loop after a
// successful computation, typically to request a layout of the pane.
func NewScheduler(log *slog.Logger, post Poster, onReady func(paneID string), rec Recorder) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if onReady == nil {
		onReady = func(string) {}
	}
	return &Scheduler{
		log:      log,
		post:     post,
		onReady:  onReady,
		recorder: rec,
		tasks:    make(map[taskKey]*task),
	}
}

// Submit schedules a computation of inst over bars, tagged with kind.
// bars must not be mutated afterwards. Returns immediately.
func (s *Scheduler) Submit(inst *Instance, bars []model.Bar, kind model.LoadKind) {
	key := taskKey{paneID: inst.PaneID, name: inst.Name()}
	if prev, ok := s.tasks[key]; ok {
		prev.cancel()
	}
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{gen: s.gen, cancel: cancel}
	s.tasks[key] = t

	inst.setState(StateLoading, kind, nil)

	// The goroutine sees only copies; inst stays loop-owned.
	calc, params := inst.Template.Calc, slices.Clone(inst.Params)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		result, err := runCalc(ctx, calc, bars, params)
		elapsed := time.Since(start)
		s.post(func() { s.complete(key, t, inst, kind, result, err, elapsed) })
	}()
}

// Cancel drops the pending task for (paneID, name), if any.
func (s *Scheduler) Cancel(paneID, name string) {
	key := taskKey{paneID: paneID, name: name}
	if t, ok := s.tasks[key]; ok {
		t.cancel()
		delete(s.tasks, key)
	}
}

// CancelAll drops every pending task.
func (s *Scheduler) CancelAll() {
	for key, t := range s.tasks {
		t.cancel()
		delete(s.tasks, key)
	}
}

// Pending is the number of keys with a task in flight.
func (s *Scheduler) Pending() int { return len(s.tasks) }

// Wait blocks until every started computation has posted its completion.
// It must not be called from the event loop goroutine when the loop's queue
// can fill up.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) complete(key taskKey, t *task, inst *Instance, kind model.LoadKind, result []Result, err error, elapsed time.Duration) {
	if cur, ok := s.tasks[key]; !ok || cur.gen != t.gen {
		s.log.Debug("discarding stale indicator result", "pane", key.paneID, "indicator", key.name, "gen", t.gen)
		s.observe(key.name, "stale", elapsed)
		return
	}
	delete(s.tasks, key)
	t.cancel()

	if err != nil {
		s.log.Warn("indicator computation failed", "pane", key.paneID, "indicator", key.name, "error", err)
		s.observe(key.name, "error", elapsed)
		inst.setState(StateError, kind, err)
		return
	}
	inst.result = result
	s.observe(key.name, "ready", elapsed)
	inst.setState(StateReady, kind, nil)
	s.onReady(key.paneID)
}

func (s *Scheduler) observe(name, outcome string, d time.Duration) {
	if s.recorder != nil {
		s.recorder.ObserveIndicator(name, outcome, d)
	}
}

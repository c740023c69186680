// Package chart is the viewport and data coordination engine of one chart.
//
// A Store owns the data window, converts between data indices and pixels,
// paginates history through a host callback, schedules indicator
// recomputation and tracks overlay interaction. It is not safe for concurrent
// use: every method must run on the chart's Loop.
package chart

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"klinecore/internal/actionbus"
	"klinecore/internal/indicator"
	"klinecore/internal/metrics"
	"klinecore/internal/model"
	"klinecore/internal/overlay"
	"klinecore/internal/paneset"
	"klinecore/internal/timescale"
)

// Bar space bounds in pixels.
const (
	MinBarSpace = 1
	MaxBarSpace = 50
)

var ErrIndicatorExists = errors.New("indicator already on pane")

// Config seeds a Store.
type Config struct {
	BarSpace            float64
	OffsetRightDistance float64
	MinVisibleBarCount  Sides
	MaxOffsetDistance   Sides
	MinLabelWidth       float64
	Timezone            string
}

// Sides is a left/right pair.
type Sides struct {
	Left  float64
	Right float64
}

// DefaultConfig returns the stock viewport settings.
func DefaultConfig() Config {
	return Config{
		BarSpace:            8,
		OffsetRightDistance: 80,
		MinVisibleBarCount:  Sides{Left: 2, Right: 2},
		MaxOffsetDistance:   Sides{Left: 50, Right: 50},
		MinLabelWidth:       timescale.DefaultMinLabelWidth,
		Timezone:            "UTC",
	}
}

// LayoutRequest asks the host to lay out and repaint panes.
type LayoutRequest struct {
	PaneIDs []string
}

type scrollLimit int

const (
	limitBarCount scrollLimit = iota
	limitDistance
)

// Store is the engine state of one chart.
type Store struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	post    indicator.Poster

	bus        *actionbus.Bus
	ticks      *timescale.Classifier
	scheduler  *indicator.Scheduler
	registry   *indicator.Registry
	indicators *paneset.Set[*indicator.Instance]
	overlays   *overlay.Manager
	onLayout   func(LayoutRequest)

	// data window
	bars         []model.Bar
	loading      bool
	forwardMore  bool
	backwardMore bool
	loadData     LoadDataFunc

	// viewport
	totalBarSpace       float64
	barSpace            float64
	gapBarSpace         float64
	diff                float64 // lastBarRightSideDiffBarCount
	startDiff           float64
	offsetRightDistance float64
	limit               scrollLimit
	minVisible          Sides
	maxOffset           Sides
	zoomEnabled         bool
	scrollEnabled       bool

	visibleRange model.VisibleRange
	visibleBars  []model.VisibleBar
	highLow      model.PriceRange
	visibleTicks []timescale.Tick
	ticksDirty   bool

	crosshair Crosshair

	busy    bool
	paneSeq int
}

// NewStore creates an empty Store. post hands indicator completions to the
// chart's Loop; m may be nil.
func NewStore(log *slog.Logger, cfg Config, post indicator.Poster, m *metrics.Metrics) *Store {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BarSpace < MinBarSpace || cfg.BarSpace > MaxBarSpace {
		cfg.BarSpace = DefaultConfig().BarSpace
	}
	s := &Store{
		log:                 log,
		metrics:             m,
		post:                post,
		bus:                 actionbus.New(),
		ticks:               timescale.New(log, cfg.MinLabelWidth),
		registry:            indicator.NewRegistry(),
		indicators:          paneset.New(func(a, b *indicator.Instance) bool { return a.ZLevel < b.ZLevel }),
		barSpace:            cfg.BarSpace,
		gapBarSpace:         gapBarSpace(cfg.BarSpace),
		offsetRightDistance: cfg.OffsetRightDistance,
		minVisible:          cfg.MinVisibleBarCount,
		maxOffset:           cfg.MaxOffsetDistance,
		zoomEnabled:         true,
		scrollEnabled:       true,
	}
	if cfg.Timezone != "" {
		s.ticks.SetTimezone(cfg.Timezone)
	}
	s.diff = s.offsetRightDistance / s.barSpace
	s.scheduler = indicator.NewScheduler(log, post, func(paneID string) { s.requestLayout(paneID) }, m)
	s.overlays = overlay.NewManager(log, s, nil, s.requestLayout)
	s.crosshair = emptyCrosshair()
	return s
}

// Bus returns the chart's action bus.
func (s *Store) Bus() *actionbus.Bus { return s.bus }

// Overlays returns the overlay manager.
func (s *Store) Overlays() *overlay.Manager { return s.overlays }

// Registry returns the indicator template registry.
func (s *Store) Registry() *indicator.Registry { return s.registry }

// Scheduler returns the indicator task scheduler.
func (s *Store) Scheduler() *indicator.Scheduler { return s.scheduler }

// TimeScale returns the tick classifier.
func (s *Store) TimeScale() *timescale.Classifier { return s.ticks }

// SetLayoutHook registers the host's layout callback.
func (s *Store) SetLayoutHook(fn func(LayoutRequest)) { s.onLayout = fn }

// SetTimezone switches the tick calendar. An unknown zone keeps the previous
// one and is logged.
func (s *Store) SetTimezone(name string) {
	if !s.enter("SetTimezone") {
		return
	}
	defer s.leave()
	if !s.ticks.SetTimezone(name) {
		return
	}
	s.ticks.Reset(s.bars)
	s.ticksDirty = true
	s.adjustVisibleRange()
	s.refreshCrosshair()
	s.requestLayout(model.XAxisPaneID)
}

func (s *Store) requestLayout(paneIDs ...string) {
	if s.onLayout == nil {
		return
	}
	s.onLayout(LayoutRequest{PaneIDs: paneIDs})
}

// allPanes lists the candle pane, every indicator pane and the x axis.
func (s *Store) allPanes() []string {
	panes := []string{model.CandlePaneID}
	for _, p := range s.indicators.Panes() {
		if p != model.CandlePaneID {
			panes = append(panes, p)
		}
	}
	return append(panes, model.XAxisPaneID)
}

// enter guards mutating operations against re-entrant calls from hooks and
// bus subscribers fired while the operation runs.
func (s *Store) enter(op string) bool {
	if s.busy {
		s.log.Debug("ignoring re-entrant call", "op", op)
		return false
	}
	s.busy = true
	return true
}

func (s *Store) leave() { s.busy = false }

// CreateIndicator places the named template on paneID. An empty paneID
// creates a new pane. Nil params select the template defaults.
func (s *Store) CreateIndicator(name, paneID string, params []float64) (*indicator.Instance, error) {
	tmpl, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("create indicator %q: unknown template", name)
	}
	if paneID == "" {
		s.paneSeq++
		paneID = "pane_" + strconv.Itoa(s.paneSeq)
	}
	if _, dup := s.indicators.Find(paneID, func(i *indicator.Instance) bool { return i.Name() == tmpl.Name }); dup {
		return nil, fmt.Errorf("create indicator %q on %s: %w", tmpl.Name, paneID, ErrIndicatorExists)
	}
	inst := indicator.NewInstance(tmpl, paneID, params)
	s.indicators.Add(paneID, inst)
	s.scheduler.Submit(inst, slices.Clone(s.bars), model.LoadInit)
	s.requestLayout(paneID)
	return inst, nil
}

// OverrideIndicator replaces the params of an indicator and recomputes it.
func (s *Store) OverrideIndicator(paneID, name string, params []float64) bool {
	inst, ok := s.indicators.Find(paneID, func(i *indicator.Instance) bool { return i.Name() == name })
	if !ok {
		return false
	}
	inst.Params = append([]float64(nil), params...)
	s.scheduler.Submit(inst, slices.Clone(s.bars), model.LoadUpdate)
	return true
}

// RemoveIndicator removes an indicator and cancels its pending computation.
func (s *Store) RemoveIndicator(paneID, name string) bool {
	if _, ok := s.indicators.Remove(paneID, func(i *indicator.Instance) bool { return i.Name() == name }); !ok {
		return false
	}
	s.scheduler.Cancel(paneID, name)
	s.requestLayout(paneID)
	return true
}

// Indicators returns the indicators of pane in z order.
func (s *Store) Indicators(paneID string) []*indicator.Instance { return s.indicators.Get(paneID) }

// IndicatorPanes lists panes that hold indicators.
func (s *Store) IndicatorPanes() []string { return s.indicators.Panes() }

func (s *Store) resubmitIndicators(kind model.LoadKind) {
	if s.indicators.Len() == 0 {
		return
	}
	snapshot := slices.Clone(s.bars)
	s.indicators.Each(func(_ string, inst *indicator.Instance) {
		s.scheduler.Submit(inst, snapshot, kind)
	})
}

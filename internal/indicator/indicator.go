// Package indicator provides technical indicator templates computed over the
// chart's data window, and the scheduler that sequences their recomputation.
//
// Templates are built on streaming calculators (SMA, EMA, SMMA, RSI) fed one
// value at a time; a template turns a full bar window into one Result per bar.
package indicator

import (
	"context"

	"klinecore/internal/model"
)

// Calculator is a streaming calculation fed one value at a time.
type Calculator interface {
	// Name returns the calculator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears all accumulated state.
	Reset()
}

// Result holds the values of one bar keyed by figure key.
// A key is absent while its line is not ready.
type Result map[string]float64

// CalcFunc computes one Result per bar over the full window.
type CalcFunc func(ctx context.Context, bars []model.Bar, params []float64) ([]Result, error)

// Figure describes one output line of a template.
type Figure struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"` // "line", "bar"
}

// Template is a named indicator definition registered in a Registry.
type Template struct {
	Name          string
	ShortName     string
	Precision     int
	DefaultParams []float64
	// Figures derives the output lines from the calc params.
	Figures func(params []float64) []Figure
	Calc    CalcFunc
}

// State is the data state of an indicator instance.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// StateChange is delivered to an instance's OnDataStateChange hook.
type StateChange struct {
	State     State
	Kind      model.LoadKind
	Indicator *Instance
	Err       error
}

// Instance is an indicator placed on a pane.
// It is owned by the chart engine and touched only on its event loop.
type Instance struct {
	Template Template
	PaneID   string
	Params   []float64
	Visible  bool
	ZLevel   int

	// OnDataStateChange, when set, observes Loading/Ready/Error transitions.
	OnDataStateChange func(StateChange)

	state  State
	result []Result
	err    error
}

// NewInstance creates a visible instance of tmpl. Nil params select the
// template defaults.
func NewInstance(tmpl Template, paneID string, params []float64) *Instance {
	if params == nil {
		params = append([]float64(nil), tmpl.DefaultParams...)
	}
	return &Instance{
		Template: tmpl,
		PaneID:   paneID,
		Params:   params,
		Visible:  true,
	}
}

// Name is the template name; it identifies the instance within its pane.
func (i *Instance) Name() string { return i.Template.Name }

// State returns the current data state.
func (i *Instance) State() State { return i.state }

// Err returns the last computation error, if any.
func (i *Instance) Err() error { return i.err }

// Result returns the last successful computation, one entry per bar.
func (i *Instance) Result() []Result { return i.result }

// Figures returns the output lines for the current params.
func (i *Instance) Figures() []Figure {
	if i.Template.Figures == nil {
		return nil
	}
	return i.Template.Figures(i.Params)
}

func (i *Instance) setState(s State, kind model.LoadKind, err error) {
	i.state = s
	i.err = err
	if i.OnDataStateChange != nil {
		i.OnDataStateChange(StateChange{State: s, Kind: kind, Indicator: i, Err: err})
	}
}

func runCalc(ctx context.Context, calc CalcFunc, bars []model.Bar, params []float64) ([]Result, error) {
	if calc == nil {
		return make([]Result, len(bars)), nil
	}
	return calc(ctx, bars, params)
}

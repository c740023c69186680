package overlay

import (
	"math"
	"strings"

	"klinecore/internal/model"
)

// hitTolerance is the pixel distance within which a pointer touches a figure.
const hitTolerance = 4.0

// pointRadius is the pixel radius of a drawn control point.
const pointRadius = 6.0

// Template defines an overlay kind.
type Template struct {
	Name string
	// TotalPoints is the number of points needed to finish drawing.
	TotalPoints int
	// HitTest reports which figure of the overlay, if any, lies under p.
	// coords are the resolved overlay points.
	HitTest func(coords []model.Coordinate, p model.Coordinate) (key string, index int, ok bool)
}

// Registry maps template names to definitions.
type Registry struct {
	templates map[string]Template
}

// NewRegistry creates a registry preloaded with the built-in overlays.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range []Template{segment(), horizontalStraightLine(), verticalStraightLine(), priceLine()} {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) {
	r.templates[strings.ToLower(t.Name)] = t
}

// Lookup finds a template by case-insensitive name.
func (r *Registry) Lookup(name string) (Template, bool) {
	t, ok := r.templates[strings.ToLower(name)]
	return t, ok
}

func segment() Template {
	return Template{
		Name:        "segment",
		TotalPoints: 2,
		HitTest: func(c []model.Coordinate, p model.Coordinate) (string, int, bool) {
			if len(c) < 2 {
				return "", 0, false
			}
			return "line", 0, distToSegment(p, c[0], c[1]) <= hitTolerance
		},
	}
}

func horizontalStraightLine() Template {
	return Template{
		Name:        "horizontalStraightLine",
		TotalPoints: 1,
		HitTest: func(c []model.Coordinate, p model.Coordinate) (string, int, bool) {
			if len(c) < 1 {
				return "", 0, false
			}
			return "line", 0, math.Abs(p.Y-c[0].Y) <= hitTolerance
		},
	}
}

func verticalStraightLine() Template {
	return Template{
		Name:        "verticalStraightLine",
		TotalPoints: 1,
		HitTest: func(c []model.Coordinate, p model.Coordinate) (string, int, bool) {
			if len(c) < 1 {
				return "", 0, false
			}
			return "line", 0, math.Abs(p.X-c[0].X) <= hitTolerance
		},
	}
}

// priceLine is a ray from its point to the right edge.
func priceLine() Template {
	return Template{
		Name:        "priceLine",
		TotalPoints: 1,
		HitTest: func(c []model.Coordinate, p model.Coordinate) (string, int, bool) {
			if len(c) < 1 {
				return "", 0, false
			}
			return "line", 0, p.X >= c[0].X-hitTolerance && math.Abs(p.Y-c[0].Y) <= hitTolerance
		},
	}
}

func distToSegment(p, a, b model.Coordinate) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

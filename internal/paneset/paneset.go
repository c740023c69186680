// Package paneset holds pane-keyed ordered collections. All mutation goes
// through Set methods so each pane's slice stays sorted.
package paneset

import "sort"

// Set maps a pane id to an ordered collection of T.
// Not safe for concurrent use.
type Set[T any] struct {
	panes map[string][]T
	order []string
	less  func(a, b T) bool
}

// New creates a Set ordered by less. Equal elements keep insertion order.
func New[T any](less func(a, b T) bool) *Set[T] {
	return &Set[T]{
		panes: make(map[string][]T),
		less:  less,
	}
}

// Add inserts v into pane and re-sorts it.
func (s *Set[T]) Add(pane string, v T) {
	if _, ok := s.panes[pane]; !ok {
		s.order = append(s.order, pane)
	}
	s.panes[pane] = append(s.panes[pane], v)
	s.Sort(pane)
}

// Remove deletes the first element of pane matching match. Returns the
// removed element. A pane left empty is dropped.
func (s *Set[T]) Remove(pane string, match func(T) bool) (T, bool) {
	var zero T
	list := s.panes[pane]
	for i, v := range list {
		if match(v) {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				s.dropPane(pane)
			} else {
				s.panes[pane] = list
			}
			return v, true
		}
	}
	return zero, false
}

// RemoveAll deletes every element matching match across all panes.
func (s *Set[T]) RemoveAll(match func(pane string, v T) bool) []T {
	var removed []T
	for _, pane := range append([]string(nil), s.order...) {
		list := s.panes[pane]
		kept := list[:0:0]
		for _, v := range list {
			if match(pane, v) {
				removed = append(removed, v)
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 {
			s.dropPane(pane)
		} else {
			s.panes[pane] = kept
		}
	}
	return removed
}

// Find returns the first element of pane matching match.
func (s *Set[T]) Find(pane string, match func(T) bool) (T, bool) {
	for _, v := range s.panes[pane] {
		if match(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Get returns a copy of pane's ordered collection.
func (s *Set[T]) Get(pane string) []T {
	list := s.panes[pane]
	out := make([]T, len(list))
	copy(out, list)
	return out
}

// Panes returns pane ids in first-insertion order.
func (s *Set[T]) Panes() []string {
	return append([]string(nil), s.order...)
}

// Each visits every element, pane by pane in insertion order.
func (s *Set[T]) Each(fn func(pane string, v T)) {
	for _, pane := range s.order {
		for _, v := range s.panes[pane] {
			fn(pane, v)
		}
	}
}

// Len is the total element count.
func (s *Set[T]) Len() int {
	n := 0
	for _, list := range s.panes {
		n += len(list)
	}
	return n
}

// Sort re-sorts pane. Call after mutating an element's sort key in place.
func (s *Set[T]) Sort(pane string) {
	list := s.panes[pane]
	sort.SliceStable(list, func(i, j int) bool { return s.less(list[i], list[j]) })
}

// Clear drops every pane.
func (s *Set[T]) Clear() {
	s.panes = make(map[string][]T)
	s.order = nil
}

func (s *Set[T]) dropPane(pane string) {
	delete(s.panes, pane)
	for i, p := range s.order {
		if p == pane {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

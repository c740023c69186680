// Package actionbus is the per-chart publish/subscribe registry the engine uses
// to notify the host application of viewport and interaction events.
//
// Fan-out is synchronous and runs in subscription order on the caller's
// goroutine. Subscribers are not isolated from each other: a subscriber that
// panics aborts the remaining notifications for that Execute call. This is the
// current behaviour, not a guarantee.
package actionbus

import (
	"sync"

	"klinecore/internal/model"
)

// Type names an event kind published on the bus.
type Type string

const (
	VisibleRangeChange  Type = "onVisibleRangeChange"
	Scroll              Type = "onScroll"
	Zoom                Type = "onZoom"
	CrosshairChange     Type = "onCrosshairChange"
	TooltipFeatureClick Type = "onTooltipFeatureClick"
)

// Handler receives the payload of an executed event.
type Handler func(payload any)

// Subscription identifies one registered handler.
type Subscription struct {
	typ Type
	id  uint64
}

// Type returns the event type the subscription listens to.
func (s Subscription) Type() Type { return s.typ }

type subscriber struct {
	id uint64
	fn Handler
}

// Bus maps event types to their ordered subscriber lists.
// Types with no remaining subscribers are removed from the mapping.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]subscriber
	nextID uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Type][]subscriber)}
}

// Subscribe appends fn to the subscribers of typ.
func (b *Bus) Subscribe(typ Type, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[typ] = append(b.subs[typ], subscriber{id: b.nextID, fn: fn})
	return Subscription{typ: typ, id: b.nextID}
}

// Unsubscribe removes one subscription. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.typ]
	for i, s := range list {
		if s.id == sub.id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, sub.typ)
		return
	}
	b.subs[sub.typ] = list
}

// UnsubscribeAll drops every subscriber of typ.
func (b *Bus) UnsubscribeAll(typ Type) {
	b.mu.Lock()
	delete(b.subs, typ)
	b.mu.Unlock()
}

// Has reports whether typ has at least one subscriber.
func (b *Bus) Has(typ Type) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[typ]
	return ok
}

// Execute calls every subscriber of typ with payload, in subscription order.
// The subscriber list is snapshotted first so handlers may (un)subscribe.
func (b *Bus) Execute(typ Type, payload any) {
	b.mu.RLock()
	list := b.subs[typ]
	snapshot := make([]subscriber, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	for _, s := range snapshot {
		s.fn(payload)
	}
}

// ── Payloads ──

// ScrollPayload carries the realized pixel distance applied by a scroll.
type ScrollPayload struct {
	Distance float64 `json:"distance"`
}

// ZoomPayload carries the realized bar-space ratio applied by a zoom.
type ZoomPayload struct {
	Scale float64 `json:"scale"`
}

// RangePayload is published when the clamped visible range changes.
type RangePayload = model.VisibleRange

// TooltipFeaturePayload is published when a tooltip feature icon is clicked.
type TooltipFeaturePayload struct {
	PaneID        string `json:"paneId"`
	IndicatorName string `json:"indicatorName,omitempty"`
	FeatureID     string `json:"featureId"`
}

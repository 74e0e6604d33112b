// Package subs owns the set of active indicator subscriptions. A
// subscription pairs an exclusively-owned state object with a callback and
// delivery options; multi-series subscriptions are indexed under every key
// they reference so an event on any of them can trigger evaluation.
//
// Like the rest of the engine, the registry runs on a single logical
// thread with no locks. Unregistration during a dispatch pass is deferred
// until the pass completes so the fanout iteration set is never mutated
// mid-flight.
package subs

import (
	"sort"

	"github.com/pkg/errors"

	"indicator-systemv1/internal/model"
)

// Subscription is one registered indicator. Exactly one of Single/Multi is
// non-nil. The state object is owned by this subscription alone: nothing
// else may read or mutate it.
type Subscription struct {
	ID             model.SubscriptionID
	Name           string
	Primary        model.SeriesKey
	Aux            []model.SeriesKey // empty for single-series
	Single         model.SingleSeriesState
	Multi          model.MultiSeriesState
	Callback       model.Callback
	IncludeUpdates bool
	Alignment      model.Alignment
	WantOutputs    bool
}

// IsMulti reports whether the subscription consumes multiple series.
func (s *Subscription) IsMulti() bool { return s.Multi != nil }

// Keys returns the referenced series, primary first, deduplicated.
func (s *Subscription) Keys() []model.SeriesKey {
	keys := make([]model.SeriesKey, 0, 1+len(s.Aux))
	keys = append(keys, s.Primary)
	for _, k := range s.Aux {
		if !containsKey(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// State returns whichever state object the subscription owns.
func (s *Subscription) State() any {
	if s.Single != nil {
		return s.Single
	}
	return s.Multi
}

// Registry holds active subscriptions indexed by id and by series key.
type Registry struct {
	nextID model.SubscriptionID
	byID   map[model.SubscriptionID]*Subscription
	byKey  map[model.SeriesKey][]*Subscription
	owned  map[any]model.SubscriptionID

	depth   int // nesting of in-flight dispatch passes
	pending []model.SubscriptionID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[model.SubscriptionID]*Subscription),
		byKey: make(map[model.SeriesKey][]*Subscription),
		owned: make(map[any]model.SubscriptionID),
	}
}

// Register adds a subscription, assigns its id, and indexes it under every
// referenced key. The state object must not already be owned.
func (r *Registry) Register(sub *Subscription) (model.SubscriptionID, error) {
	if sub.Callback == nil {
		return 0, errors.Wrap(model.ErrBadRegistration, "nil callback")
	}
	if (sub.Single == nil) == (sub.Multi == nil) {
		return 0, errors.Wrap(model.ErrBadRegistration, "exactly one state kind required")
	}
	st := sub.State()
	if owner, taken := r.owned[st]; taken {
		return 0, errors.Wrapf(model.ErrStateOwned, "state already bound to subscription %d", owner)
	}

	r.nextID++
	sub.ID = r.nextID
	r.byID[sub.ID] = sub
	r.owned[st] = sub.ID
	for _, k := range sub.Keys() {
		r.byKey[k] = append(r.byKey[k], sub)
	}
	return sub.ID, nil
}

// Remove unregisters a subscription, releasing its state and callback.
// Called during a dispatch pass it is deferred until the pass completes.
func (r *Registry) Remove(id model.SubscriptionID) error {
	if _, ok := r.byID[id]; !ok {
		return errors.Wrapf(model.ErrUnknownSubscription, "id %d", id)
	}
	if r.depth > 0 {
		r.pending = append(r.pending, id)
		return nil
	}
	r.remove(id)
	return nil
}

func (r *Registry) remove(id model.SubscriptionID) {
	sub, ok := r.byID[id]
	if !ok {
		return // already applied (duplicate deferred removal)
	}
	delete(r.byID, id)
	delete(r.owned, sub.State())
	for _, k := range sub.Keys() {
		list := r.byKey[k]
		for i, s := range list {
			if s.ID == id {
				r.byKey[k] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(r.byKey[k]) == 0 {
			delete(r.byKey, k)
		}
	}
}

// ForKey returns the subscriptions indexed under the series key, in
// registration order. The returned slice is the live index: callers must
// not mutate it, and removals are deferred while a dispatch is open.
func (r *Registry) ForKey(key model.SeriesKey) []*Subscription {
	return r.byKey[key]
}

// Get returns a subscription by id.
func (r *Registry) Get(id model.SubscriptionID) (*Subscription, bool) {
	sub, ok := r.byID[id]
	return sub, ok
}

// All returns every subscription ordered by id, a deterministic iteration
// for snapshots.
func (r *Registry) All() []*Subscription {
	out := make([]*Subscription, 0, len(r.byID))
	for _, sub := range r.byID {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int { return len(r.byID) }

// BeginDispatch marks a fanout pass open; removals are deferred until the
// matching EndDispatch.
func (r *Registry) BeginDispatch() { r.depth++ }

// EndDispatch closes a fanout pass and applies deferred removals once the
// outermost pass completes.
func (r *Registry) EndDispatch() {
	r.depth--
	if r.depth > 0 {
		return
	}
	for _, id := range r.pending {
		r.remove(id)
	}
	r.pending = r.pending[:0]
}

func containsKey(keys []model.SeriesKey, k model.SeriesKey) bool {
	for _, have := range keys {
		if have == k {
			return true
		}
	}
	return false
}

// Package dispatch decides, per bar mutation, which subscriptions fire and
// with what data. It enforces the alignment policy for multi-series
// subscriptions and isolates faults so one misbehaving state or callback
// never starves the rest of the fanout.
//
// Per event there are up to two passes: a finalization pass (the closed
// bar, final=true) and a forming pass (the in-progress bar, final=false,
// only for subscriptions that opted into updates). States treat forming
// updates as non-mutating previews, so firing both for one event is safe.
package dispatch

import (
	"github.com/pkg/errors"

	"indicator-systemv1/internal/model"
	"indicator-systemv1/internal/series"
	"indicator-systemv1/internal/subs"
)

// Event is one bar mutation produced by a builder for a series.
type Event struct {
	Key       model.SeriesKey
	Finalized *model.Bar // non-nil when the event closed a bar
	Current   *model.Bar // nil when the series has no forming bar after the event
}

// Fault records a panic raised inside one subscription's update or
// callback. Faults are collected, never propagated mid-fanout.
type Fault struct {
	ID  model.SubscriptionID
	Err error
}

// Dispatcher fans bar mutations out to eligible subscriptions.
type Dispatcher struct {
	store *series.Store
	reg   *subs.Registry

	// Metrics hooks (optional).
	OnFire       func()
	OnSuppressed func()
}

// New creates a dispatcher over the shared store and registry.
func New(store *series.Store, reg *subs.Registry) *Dispatcher {
	return &Dispatcher{store: store, reg: reg}
}

// Dispatch fans one event out. Returns the faults collected across all
// fired subscriptions; the fanout always runs to completion.
func (d *Dispatcher) Dispatch(ev Event) []Fault {
	d.reg.BeginDispatch()
	defer d.reg.EndDispatch()

	var faults []Fault
	targets := d.reg.ForKey(ev.Key)

	if ev.Finalized != nil {
		for _, sub := range targets {
			if f := d.fireFinal(sub, ev.Key, *ev.Finalized); f != nil {
				faults = append(faults, *f)
			}
		}
	}
	if ev.Current != nil {
		for _, sub := range targets {
			if !sub.IncludeUpdates {
				continue
			}
			if f := d.fireForming(sub, ev.Key, *ev.Current); f != nil {
				faults = append(faults, *f)
			}
		}
	}
	return faults
}

// fireFinal runs the finalization pass for one subscription.
func (d *Dispatcher) fireFinal(sub *subs.Subscription, key model.SeriesKey, bar model.Bar) *Fault {
	if !sub.IsMulti() {
		return d.invoke(sub, nil, key, bar, true)
	}

	switch sub.Alignment {
	case model.AlignStrict:
		// Eligible only if every referenced series has a visible bar
		// ending exactly at the triggering bar's end. The aligned view
		// enforces that for the eligibility check and for every read the
		// state performs. The triggering series matches trivially: its
		// finalized bar was appended before dispatch.
		view := d.store.AlignedView(bar.End, sub.IncludeUpdates)
		for _, k := range sub.Keys() {
			if _, ok := view.TryLatest(k); !ok {
				if d.OnSuppressed != nil {
					d.OnSuppressed()
				}
				return nil
			}
		}
		return d.invoke(sub, view, key, bar, true)

	default: // AlignLastKnown
		// Never blocks on missing auxiliary data: the state reports
		// "no value yet" itself when a series has no bar.
		view := d.store.View(sub.IncludeUpdates)
		return d.invoke(sub, view, key, bar, true)
	}
}

// fireForming runs the forming-bar preview pass for one subscription.
// Strict subscriptions fire only on finalizations, never on previews.
func (d *Dispatcher) fireForming(sub *subs.Subscription, key model.SeriesKey, bar model.Bar) *Fault {
	if !sub.IsMulti() {
		return d.invoke(sub, nil, key, bar, false)
	}
	if sub.Alignment == model.AlignStrict {
		return nil
	}
	return d.invoke(sub, d.store.View(true), key, bar, false)
}

// invoke updates the subscription's state and, when it reports a value,
// its callback, both inside a recover barrier.
func (d *Dispatcher) invoke(sub *subs.Subscription, view model.BarView, key model.SeriesKey, bar model.Bar, final bool) (fault *Fault) {
	defer func() {
		if p := recover(); p != nil {
			fault = &Fault{ID: sub.ID, Err: errors.Errorf("subscription %d (%s): panic: %v", sub.ID, sub.Name, p)}
		}
	}()

	var v model.IndicatorValue
	if sub.IsMulti() {
		v = sub.Multi.Update(view, key, bar, final, sub.WantOutputs)
	} else {
		v = sub.Single.Update(bar, final, sub.WantOutputs)
	}
	if !v.Valid {
		return nil
	}
	if d.OnFire != nil {
		d.OnFire()
	}
	sub.Callback(model.IndicatorResult{
		SubscriptionID: sub.ID,
		Name:           sub.Name,
		Series:         key,
		TS:             bar.End,
		Value:          v.Value,
		Outputs:        v.Outputs,
		Final:          final,
	})
	return nil
}

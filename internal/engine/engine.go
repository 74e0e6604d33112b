// Package engine is the facade tying bar building, series storage,
// subscriptions and dispatch into one synchronous ingestion surface.
//
// An Engine is a single logical thread: all methods must be called from one
// goroutine (or externally serialized). In exchange nothing locks, results
// are delivered before OnTrade/OnQuote return, and identical event
// sequences produce identical output sequences.
package engine

import (
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"indicator-systemv1/internal/barbuilder"
	"indicator-systemv1/internal/dispatch"
	"indicator-systemv1/internal/model"
	"indicator-systemv1/internal/series"
	"indicator-systemv1/internal/subs"
)

// Options tunes engine-wide behavior. The zero value is usable.
type Options struct {
	// EmitUpdates is the default forming-bar preview policy for
	// subscriptions that leave IncludeUpdates unset.
	EmitUpdates bool

	// HistoryWindow caps retained finalized bars per series. Zero means
	// series.DefaultWindow.
	HistoryWindow int

	// OnFault, when set, receives faults from panicking subscriptions and
	// the ingestion call returns nil for them. When nil, faults surface
	// joined on the ingestion call's error.
	OnFault func(dispatch.Fault)

	// OnLateEvent is invoked with the series whose forming bar the dropped
	// older event missed.
	OnLateEvent func(key model.SeriesKey)

	// OnFinalBar observes every finalized bar before dispatch. Used to feed
	// persistence without threading stores through the engine.
	OnFinalBar func(key model.SeriesKey, bar model.Bar)

	// OnSuppressed counts strict-alignment firings withheld for lack of a
	// time-aligned bar in every referenced series.
	OnSuppressed func()

	Logger *slog.Logger
}

// Engine implements model.EventSink.
type Engine struct {
	opts Options
	log  *slog.Logger

	store *series.Store
	reg   *subs.Registry
	disp  *dispatch.Dispatcher

	builders map[model.SeriesKey]*barbuilder.Builder
	bySymbol map[string][]model.SeriesKey
	keys     []model.SeriesKey // all series in registration order
}

// New creates an empty engine. Series come into existence lazily as
// subscriptions reference them.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	window := opts.HistoryWindow
	if window <= 0 {
		window = series.DefaultWindow
	}
	st := series.NewStore(window)
	reg := subs.NewRegistry()
	disp := dispatch.New(st, reg)
	disp.OnSuppressed = opts.OnSuppressed
	return &Engine{
		opts:     opts,
		log:      opts.Logger,
		store:    st,
		reg:      reg,
		disp:     disp,
		builders: make(map[model.SeriesKey]*barbuilder.Builder),
		bySymbol: make(map[string][]model.SeriesKey),
	}
}

// Store exposes the series store for read access (history queries,
// warm-up). Mutations stay inside the engine.
func (e *Engine) Store() *series.Store { return e.store }

// Subscriptions returns the number of live subscriptions.
func (e *Engine) Subscriptions() int { return e.reg.Len() }

func (e *Engine) ensureSeries(key model.SeriesKey) {
	if _, ok := e.builders[key]; ok {
		return
	}
	b := barbuilder.New(key)
	if hook := e.opts.OnLateEvent; hook != nil {
		k := key
		b.OnLateEvent = func() { hook(k) }
	}
	e.builders[key] = b
	e.store.Ensure(key)
	e.bySymbol[key.Symbol] = append(e.bySymbol[key.Symbol], key)
	e.keys = append(e.keys, key)
}

// OnTrade aggregates the trade into the forming bar of every series on its
// symbol and synchronously dispatches the resulting mutations. Trades for
// symbols no subscription references are validated and then ignored.
func (e *Engine) OnTrade(t model.Trade) error {
	if err := t.Validate(); err != nil {
		return err
	}
	var faults []dispatch.Fault
	for _, key := range e.bySymbol[t.Symbol] {
		res, err := e.builders[key].IngestTrade(t)
		if err != nil {
			return err
		}
		faults = append(faults, e.apply(key, res)...)
	}
	return e.resolveFaults(faults)
}

// OnQuote mirrors OnTrade using the quote midpoint. Quotes shape bars but
// never advance tick counts or volume.
func (e *Engine) OnQuote(q model.Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	var faults []dispatch.Fault
	for _, key := range e.bySymbol[q.Symbol] {
		res, err := e.builders[key].IngestQuote(q)
		if err != nil {
			return err
		}
		faults = append(faults, e.apply(key, res)...)
	}
	return e.resolveFaults(faults)
}

// AdvanceTime finalizes every duration bar whose bucket ended at or before
// now, without opening successors. Call it from a timer so bars close even
// when the feed goes quiet.
func (e *Engine) AdvanceTime(now time.Time) error {
	var faults []dispatch.Fault
	for _, key := range e.keys {
		res := e.builders[key].Advance(now)
		faults = append(faults, e.apply(key, res)...)
	}
	return e.resolveFaults(faults)
}

// ReplayFinalBar injects an already-finalized bar, bypassing aggregation.
// Used for backfill from persistent storage before live events flow.
func (e *Engine) ReplayFinalBar(key model.SeriesKey, bar model.Bar) error {
	if !key.TF.Valid() {
		return errors.Wrapf(model.ErrBadEvent, "replay into invalid series %s", key.Key())
	}
	e.ensureSeries(key)
	bar.Forming = false
	res := barbuilder.Result{Finalized: &bar, Mutated: true}
	return e.resolveFaults(e.apply(key, res))
}

// apply commits one builder result to the store and dispatches it.
func (e *Engine) apply(key model.SeriesKey, res barbuilder.Result) []dispatch.Fault {
	if !res.Mutated {
		return nil
	}
	ev := dispatch.Event{Key: key}
	if res.Finalized != nil {
		e.store.AppendFinal(key, *res.Finalized)
		if e.opts.OnFinalBar != nil {
			e.opts.OnFinalBar(key, *res.Finalized)
		}
		ev.Finalized = res.Finalized
	}
	if res.HasCurrent {
		e.store.SetCurrent(key, res.Current)
		cur := res.Current
		ev.Current = &cur
	} else if res.Finalized != nil {
		e.store.ClearCurrent(key)
	}
	return e.disp.Dispatch(ev)
}

func (e *Engine) resolveFaults(faults []dispatch.Fault) error {
	if len(faults) == 0 {
		return nil
	}
	if e.opts.OnFault != nil {
		for _, f := range faults {
			e.log.Error("subscription fault", "subscription_id", int64(f.ID), "err", f.Err)
			e.opts.OnFault(f)
		}
		return nil
	}
	errs := make([]error, len(faults))
	for i, f := range faults {
		errs[i] = f.Err
	}
	return stderrors.Join(errs...)
}

// RegisterStatefulIndicator subscribes a single-series state to one series.
// The state instance becomes owned by this subscription until Unregister.
func (e *Engine) RegisterStatefulIndicator(symbol string, tf model.Timeframe, state model.SingleSeriesState, cb model.Callback, opts model.SubscriptionOptions) (model.SubscriptionID, error) {
	if symbol == "" || !tf.Valid() {
		return 0, errors.Wrapf(model.ErrBadRegistration, "invalid series %s:%s", symbol, tf.String())
	}
	if state == nil {
		return 0, errors.Wrap(model.ErrBadRegistration, "nil state")
	}
	key := model.NewSeriesKey(symbol, tf)
	sub := &subs.Subscription{
		Name:           opts.Name,
		Primary:        key,
		Single:         state,
		Callback:       cb,
		IncludeUpdates: e.includeUpdates(opts),
		Alignment:      opts.Alignment,
		WantOutputs:    opts.WantOutputs,
	}
	id, err := e.reg.Register(sub)
	if err != nil {
		return 0, err
	}
	e.ensureSeries(key)
	e.log.Info("subscription registered",
		"subscription_id", int64(id), "name", sub.Name, "series", key.Key())
	return id, nil
}

// RegisterMultiSeriesIndicator subscribes a multi-series state to a primary
// series plus auxiliary series. Every referenced series triggers it,
// subject to the alignment policy.
func (e *Engine) RegisterMultiSeriesIndicator(primary model.SeriesKey, aux []model.SeriesKey, state model.MultiSeriesState, cb model.Callback, opts model.SubscriptionOptions) (model.SubscriptionID, error) {
	for _, key := range append([]model.SeriesKey{primary}, aux...) {
		if key.Symbol == "" || !key.TF.Valid() {
			return 0, errors.Wrapf(model.ErrBadRegistration, "invalid series %s", key.Key())
		}
	}
	if state == nil {
		return 0, errors.Wrap(model.ErrBadRegistration, "nil state")
	}
	sub := &subs.Subscription{
		Name:           opts.Name,
		Primary:        primary,
		Aux:            aux,
		Multi:          state,
		Callback:       cb,
		IncludeUpdates: e.includeUpdates(opts),
		Alignment:      opts.Alignment,
		WantOutputs:    opts.WantOutputs,
	}
	id, err := e.reg.Register(sub)
	if err != nil {
		return 0, err
	}
	for _, key := range sub.Keys() {
		e.ensureSeries(key)
	}
	e.log.Info("subscription registered",
		"subscription_id", int64(id), "name", sub.Name, "series", primary.Key(),
		"aux", len(aux), "alignment", opts.Alignment.String())
	return id, nil
}

// Unregister removes a subscription. Safe to call from inside a callback;
// removal then takes effect once the current fanout completes. The series
// and retained history stay, ready for future subscriptions.
func (e *Engine) Unregister(id model.SubscriptionID) error {
	return e.reg.Remove(id)
}

// ResetSubscription returns the subscription's state to its initial
// (unwarmed) condition without touching series history.
func (e *Engine) ResetSubscription(id model.SubscriptionID) error {
	sub, ok := e.reg.Get(id)
	if !ok {
		return errors.Wrapf(model.ErrUnknownSubscription, "id %d", id)
	}
	if sub.Single != nil {
		sub.Single.Reset()
	} else {
		sub.Multi.Reset()
	}
	return nil
}

// WarmUp resets the subscription's state and replays the primary series'
// retained finalized bars into it, oldest first. Repeating WarmUp always
// reproduces the same state. Multi-series states are replayed against the
// present view rather than a historical reconstruction, which is exact for
// stateless spreads and best-effort for smoothed ones.
func (e *Engine) WarmUp(id model.SubscriptionID) error {
	sub, ok := e.reg.Get(id)
	if !ok {
		return errors.Wrapf(model.ErrUnknownSubscription, "id %d", id)
	}
	bars := e.store.RecentFinal(sub.Primary, e.store.Window())
	if sub.Single != nil {
		sub.Single.Reset()
		for _, b := range bars {
			sub.Single.Update(b, true, false)
		}
		return nil
	}
	sub.Multi.Reset()
	view := e.store.View(false)
	for _, b := range bars {
		sub.Multi.Update(view, sub.Primary, b, true, false)
	}
	return nil
}

func (e *Engine) includeUpdates(opts model.SubscriptionOptions) bool {
	if opts.IncludeUpdates != nil {
		return *opts.IncludeUpdates
	}
	return e.opts.EmitUpdates
}

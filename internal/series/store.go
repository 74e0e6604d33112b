// Package series holds the shared bar state for every (symbol, timeframe)
// stream: the current forming bar plus a bounded window of finalized bars.
// It is the single source of truth other components read bar data from.
//
// The store is written only by the engine's bar builder pass and read by
// the dispatcher and indicator states within the same call. Single
// logical thread, no locks (same discipline as the per-key state maps in
// the upstream resampler).
package series

import (
	"time"

	"indicator-systemv1/internal/model"
	"indicator-systemv1/internal/ringbuf"
)

// DefaultWindow is the finalized-bar history retained per series when the
// engine does not configure one.
const DefaultWindow = 256

type state struct {
	cur    model.Bar
	hasCur bool
	hist   *ringbuf.Ring
}

// Store maps series keys to their bar state.
type Store struct {
	window int
	series map[model.SeriesKey]*state
}

// NewStore creates a store retaining up to window finalized bars per
// series. window <= 0 falls back to DefaultWindow.
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window: window,
		series: make(map[model.SeriesKey]*state, 64),
	}
}

// Ensure creates the series entry if absent. Series are created lazily and
// persist for the store's lifetime.
func (s *Store) Ensure(key model.SeriesKey) {
	s.ensure(key)
}

func (s *Store) ensure(key model.SeriesKey) *state {
	st, ok := s.series[key]
	if !ok {
		st = &state{hist: ringbuf.New(s.window)}
		s.series[key] = st
	}
	return st
}

// SetCurrent replaces the forming bar of the series.
func (s *Store) SetCurrent(key model.SeriesKey, bar model.Bar) {
	st := s.ensure(key)
	st.cur = bar
	st.hasCur = true
}

// ClearCurrent removes the forming bar (tick-count series have none between
// a finalization and the next event).
func (s *Store) ClearCurrent(key model.SeriesKey) {
	if st, ok := s.series[key]; ok {
		st.cur = model.Bar{}
		st.hasCur = false
	}
}

// Current returns the forming bar of the series, if one exists.
func (s *Store) Current(key model.SeriesKey) (model.Bar, bool) {
	st, ok := s.series[key]
	if !ok || !st.hasCur {
		return model.Bar{}, false
	}
	return st.cur, true
}

// AppendFinal appends a finalized bar to the series history, evicting past
// the window. The bar is immediately visible to reads in the same engine
// event (read-after-write within one dispatch).
func (s *Store) AppendFinal(key model.SeriesKey, bar model.Bar) {
	s.ensure(key).hist.Append(bar)
}

// LastFinal returns the most recently finalized bar of the series.
func (s *Store) LastFinal(key model.SeriesKey) (model.Bar, bool) {
	st, ok := s.series[key]
	if !ok {
		return model.Bar{}, false
	}
	return st.hist.Last()
}

// RecentFinal copies up to n finalized bars, oldest first.
func (s *Store) RecentFinal(key model.SeriesKey, n int) []model.Bar {
	st, ok := s.series[key]
	if !ok {
		return nil
	}
	return st.hist.Recent(n)
}

// Window returns the configured history window length.
func (s *Store) Window() int { return s.window }

// ── Views ──

// View is the borrowed, call-scoped read surface handed to multi-series
// states. It never outlives the dispatch that created it. A zero requireEnd
// means "latest known"; otherwise only a bar ending exactly at requireEnd
// is visible (strict alignment).
type View struct {
	s              *Store
	includeForming bool
	requireEnd     time.Time
}

// View returns a latest-known view. With includeForming=false, in-progress
// bars are invisible and only finalized bars are served.
func (s *Store) View(includeForming bool) View {
	return View{s: s, includeForming: includeForming}
}

// AlignedView returns a view serving only bars whose end time equals end.
func (s *Store) AlignedView(end time.Time, includeForming bool) View {
	return View{s: s, includeForming: includeForming, requireEnd: end}
}

// TryLatest implements model.BarView.
func (v View) TryLatest(key model.SeriesKey) (model.Bar, bool) {
	st, ok := v.s.series[key]
	if !ok {
		return model.Bar{}, false
	}
	if v.requireEnd.IsZero() {
		if v.includeForming && st.hasCur {
			return st.cur, true
		}
		return st.hist.Last()
	}
	if v.includeForming && st.hasCur && st.cur.End.Equal(v.requireEnd) {
		return st.cur, true
	}
	if last, ok := st.hist.Last(); ok && last.End.Equal(v.requireEnd) {
		return last, true
	}
	return model.Bar{}, false
}

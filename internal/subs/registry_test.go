package subs

import (
	"errors"
	"testing"

	"indicator-systemv1/internal/model"
)

type fakeState struct{ n int }

func (f *fakeState) Reset() {}
func (f *fakeState) Update(bar model.Bar, final, want bool) model.IndicatorValue {
	f.n++
	return model.IndicatorValue{Valid: true, Value: float64(f.n)}
}

type fakeMultiState struct{ n int }

func (f *fakeMultiState) Reset() {}
func (f *fakeMultiState) Update(view model.BarView, trigger model.SeriesKey, bar model.Bar, final, want bool) model.IndicatorValue {
	f.n++
	return model.IndicatorValue{Valid: true, Value: float64(f.n)}
}

var (
	keyA = model.NewSeriesKey("AAPL", model.Minutes(1))
	keyB = model.NewSeriesKey("MSFT", model.Minutes(5))
)

func noop(model.IndicatorResult) {}

func single(st model.SingleSeriesState) *Subscription {
	return &Subscription{Primary: keyA, Single: st, Callback: noop}
}

func TestRegistry_RegisterAndIndex(t *testing.T) {
	r := NewRegistry()

	id, err := r.Register(single(&fakeState{}))
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero id")
	}
	if got := len(r.ForKey(keyA)); got != 1 {
		t.Errorf("expected 1 subscription under %v, got %d", keyA, got)
	}
}

func TestRegistry_MultiIndexedUnderEveryKey(t *testing.T) {
	r := NewRegistry()

	sub := &Subscription{Primary: keyA, Aux: []model.SeriesKey{keyB}, Multi: &fakeMultiState{}, Callback: noop}
	if _, err := r.Register(sub); err != nil {
		t.Fatal(err)
	}

	if len(r.ForKey(keyA)) != 1 || len(r.ForKey(keyB)) != 1 {
		t.Error("multi subscription must be indexed under primary and auxiliary keys")
	}
}

func TestRegistry_ZeroAuxMultiAccepted(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{Primary: keyA, Multi: &fakeMultiState{}, Callback: noop}
	if _, err := r.Register(sub); err != nil {
		t.Fatalf("zero-aux multi registration must degenerate to single-series, got %v", err)
	}
}

func TestRegistry_DuplicateStateRejected(t *testing.T) {
	r := NewRegistry()
	st := &fakeState{}

	if _, err := r.Register(single(st)); err != nil {
		t.Fatal(err)
	}
	_, err := r.Register(&Subscription{Primary: keyB, Single: st, Callback: noop})
	if !errors.Is(err, model.ErrStateOwned) {
		t.Fatalf("expected ErrStateOwned, got %v", err)
	}

	// Released on unregister, then reusable.
	subs := r.All()
	if err := r.Remove(subs[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(&Subscription{Primary: keyB, Single: st, Callback: noop}); err != nil {
		t.Fatalf("state must be reusable after unregister, got %v", err)
	}
}

func TestRegistry_UnknownIDRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Remove(42); !errors.Is(err, model.ErrUnknownSubscription) {
		t.Fatalf("expected ErrUnknownSubscription, got %v", err)
	}
}

func TestRegistry_BadRegistrations(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Register(&Subscription{Primary: keyA, Single: &fakeState{}}); !errors.Is(err, model.ErrBadRegistration) {
		t.Errorf("nil callback: expected ErrBadRegistration, got %v", err)
	}
	if _, err := r.Register(&Subscription{Primary: keyA, Callback: noop}); !errors.Is(err, model.ErrBadRegistration) {
		t.Errorf("no state: expected ErrBadRegistration, got %v", err)
	}
	if _, err := r.Register(&Subscription{Primary: keyA, Single: &fakeState{}, Multi: &fakeMultiState{}, Callback: noop}); !errors.Is(err, model.ErrBadRegistration) {
		t.Errorf("both states: expected ErrBadRegistration, got %v", err)
	}
}

func TestRegistry_DeferredRemovalDuringDispatch(t *testing.T) {
	r := NewRegistry()
	id1, _ := r.Register(single(&fakeState{}))
	id2, _ := r.Register(single(&fakeState{}))

	r.BeginDispatch()
	if err := r.Remove(id1); err != nil {
		t.Fatal(err)
	}
	// Still visible inside the pass.
	if len(r.ForKey(keyA)) != 2 {
		t.Error("removal must be deferred while a dispatch pass is open")
	}
	// Removing it twice while deferred must not blow up on apply.
	if err := r.Remove(id1); err != nil {
		t.Fatal(err)
	}
	r.EndDispatch()

	if len(r.ForKey(keyA)) != 1 {
		t.Errorf("expected 1 subscription after pass, got %d", len(r.ForKey(keyA)))
	}
	if _, ok := r.Get(id1); ok {
		t.Error("removed subscription still resolvable")
	}
	if _, ok := r.Get(id2); !ok {
		t.Error("unrelated subscription lost")
	}
}

func TestRegistry_AllOrderedByID(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		if _, err := r.Register(single(&fakeState{})); err != nil {
			t.Fatal(err)
		}
	}
	all := r.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("All() not ordered: %v before %v", all[i-1].ID, all[i].ID)
		}
	}
}

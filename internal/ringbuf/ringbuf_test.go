package ringbuf

import (
	"testing"
	"time"

	"indicator-systemv1/internal/model"
)

func bar(close float64) model.Bar {
	return model.Bar{Symbol: "X", Close: close, End: time.Unix(int64(close), 0).UTC()}
}

func TestRing_AppendAndLast(t *testing.T) {
	r := New(4)
	if _, ok := r.Last(); ok {
		t.Fatal("empty ring should have no last bar")
	}

	r.Append(bar(1))
	r.Append(bar(2))

	last, ok := r.Last()
	if !ok || last.Close != 2 {
		t.Fatalf("expected last close=2, got %+v ok=%v", last, ok)
	}
	if r.Len() != 2 {
		t.Errorf("expected len=2, got %d", r.Len())
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	r := New(4)
	for i := 1; i <= 10; i++ {
		r.Append(bar(float64(i)))
	}

	if r.Len() != 4 {
		t.Fatalf("expected len=4, got %d", r.Len())
	}
	if r.Evicted() != 6 {
		t.Errorf("expected evicted=6, got %d", r.Evicted())
	}

	// Retained window should be 7, 8, 9, 10 (newest at i=0)
	for i := 0; i < 4; i++ {
		b, ok := r.At(i)
		if !ok {
			t.Fatalf("At(%d): expected bar", i)
		}
		want := float64(10 - i)
		if b.Close != want {
			t.Errorf("At(%d): expected close=%v, got %v", i, want, b.Close)
		}
	}
	if _, ok := r.At(4); ok {
		t.Error("At(4): expected miss past the window")
	}
}

func TestRing_Recent(t *testing.T) {
	r := New(8)
	for i := 1; i <= 5; i++ {
		r.Append(bar(float64(i)))
	}

	got := r.Recent(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	// Oldest first: 3, 4, 5
	for i, want := range []float64{3, 4, 5} {
		if got[i].Close != want {
			t.Errorf("Recent[%d]: expected %v, got %v", i, want, got[i].Close)
		}
	}

	if got := r.Recent(100); len(got) != 5 {
		t.Errorf("Recent(100): expected 5 bars, got %d", len(got))
	}
	if got := r.Recent(0); got != nil {
		t.Errorf("Recent(0): expected nil, got %v", got)
	}
}

func TestRing_CapacityRounding(t *testing.T) {
	if c := New(5).Cap(); c != 8 {
		t.Errorf("expected cap=8, got %d", c)
	}
	if c := New(0).Cap(); c != 2 {
		t.Errorf("expected minimum cap=2, got %d", c)
	}
}

package series

import (
	"testing"
	"time"

	"indicator-systemv1/internal/model"
)

var (
	keyA = model.NewSeriesKey("AAPL", model.Minutes(1))
	keyB = model.NewSeriesKey("MSFT", model.Minutes(5))
)

func finalBar(symbol string, endSec int64, close float64) model.Bar {
	return model.Bar{
		Symbol: symbol,
		Start:  time.Unix(endSec-60, 0).UTC(),
		End:    time.Unix(endSec, 0).UTC(),
		Open:   close, High: close, Low: close, Close: close,
	}
}

func TestStore_CurrentLifecycle(t *testing.T) {
	s := NewStore(8)

	if _, ok := s.Current(keyA); ok {
		t.Fatal("unknown series should have no current bar")
	}

	cur := finalBar("AAPL", 60, 100)
	cur.Forming = true
	s.SetCurrent(keyA, cur)

	got, ok := s.Current(keyA)
	if !ok || got.Close != 100 || !got.Forming {
		t.Fatalf("expected forming bar close=100, got %+v ok=%v", got, ok)
	}

	s.ClearCurrent(keyA)
	if _, ok := s.Current(keyA); ok {
		t.Error("expected no current bar after clear")
	}
}

func TestStore_ReadAfterWrite(t *testing.T) {
	s := NewStore(8)

	b := finalBar("AAPL", 60, 101)
	s.AppendFinal(keyA, b)

	last, ok := s.LastFinal(keyA)
	if !ok || !last.End.Equal(b.End) {
		t.Fatalf("finalized bar must be visible immediately, got %+v ok=%v", last, ok)
	}
}

func TestStore_WindowEviction(t *testing.T) {
	s := NewStore(4)
	for i := int64(1); i <= 10; i++ {
		s.AppendFinal(keyA, finalBar("AAPL", i*60, float64(i)))
	}

	recent := s.RecentFinal(keyA, 100)
	if len(recent) != 4 {
		t.Fatalf("expected 4 retained bars, got %d", len(recent))
	}
	if recent[0].Close != 7 || recent[3].Close != 10 {
		t.Errorf("expected window [7..10], got [%v..%v]", recent[0].Close, recent[3].Close)
	}
}

func TestView_LatestKnown(t *testing.T) {
	s := NewStore(8)
	s.AppendFinal(keyA, finalBar("AAPL", 60, 100))

	cur := finalBar("AAPL", 120, 105)
	cur.Forming = true
	s.SetCurrent(keyA, cur)

	// Forming bar visible when allowed.
	if b, ok := s.View(true).TryLatest(keyA); !ok || b.Close != 105 {
		t.Errorf("includeForming view: expected forming close=105, got %+v ok=%v", b, ok)
	}

	// Forming bar invisible otherwise.
	if b, ok := s.View(false).TryLatest(keyA); !ok || b.Close != 100 {
		t.Errorf("finalized-only view: expected close=100, got %+v ok=%v", b, ok)
	}

	if _, ok := s.View(true).TryLatest(keyB); ok {
		t.Error("series with no data must report not found")
	}
}

func TestView_Aligned(t *testing.T) {
	s := NewStore(8)
	s.AppendFinal(keyA, finalBar("AAPL", 300, 100))
	s.AppendFinal(keyB, finalBar("MSFT", 300, 50))

	end := time.Unix(300, 0).UTC()

	v := s.AlignedView(end, false)
	if _, ok := v.TryLatest(keyA); !ok {
		t.Error("expected AAPL bar at aligned end")
	}
	if _, ok := v.TryLatest(keyB); !ok {
		t.Error("expected MSFT bar at aligned end")
	}

	// A series whose latest final ends elsewhere is filtered out.
	s.AppendFinal(keyA, finalBar("AAPL", 360, 101))
	if _, ok := s.AlignedView(time.Unix(360, 0).UTC(), false).TryLatest(keyB); ok {
		t.Error("MSFT has no bar ending at 360, must report not found")
	}

	// But a forming bar with the matching end is served when allowed.
	cur := finalBar("MSFT", 600, 51)
	cur.Forming = true
	s.SetCurrent(keyB, cur)
	if b, ok := s.AlignedView(cur.End, true).TryLatest(keyB); !ok || !b.Forming {
		t.Errorf("expected forming MSFT bar at aligned end, got %+v ok=%v", b, ok)
	}
	if _, ok := s.AlignedView(cur.End, false).TryLatest(keyB); ok {
		t.Error("forming bar must stay invisible to a finalized-only aligned view")
	}
}

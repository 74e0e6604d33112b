package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func healthzStatus(t *testing.T, h *HealthStatus) (string, int) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	return body.Status, rec.Code
}

// A standalone run with no stores configured must report healthy once the
// feed is up, not degraded forever.
func TestHealthz_DisabledStoresAreHealthy(t *testing.T) {
	h := NewHealthStatus()
	h.SetStoresEnabled(false, false)
	h.SetFeedConnected(true)

	status, code := healthzStatus(t, h)
	if status != "healthy" || code != http.StatusOK {
		t.Errorf("got %q/%d, want healthy/200", status, code)
	}
}

func TestHealthz_EnabledStoreDownDegrades(t *testing.T) {
	h := NewHealthStatus()
	h.SetStoresEnabled(true, false)
	h.SetFeedConnected(true)

	status, code := healthzStatus(t, h)
	if status != "degraded" || code != http.StatusServiceUnavailable {
		t.Errorf("got %q/%d, want degraded/503", status, code)
	}

	h.mu.Lock()
	h.RedisConnected = true
	h.mu.Unlock()
	if status, code := healthzStatus(t, h); status != "healthy" || code != http.StatusOK {
		t.Errorf("after redis recovery: got %q/%d, want healthy/200", status, code)
	}
}

func TestHealthz_AllEnabledStoresDownIsUnhealthy(t *testing.T) {
	h := NewHealthStatus()
	h.SetStoresEnabled(true, true)
	h.SetFeedConnected(true)

	if status, _ := healthzStatus(t, h); status != "unhealthy" {
		t.Errorf("got %q, want unhealthy", status)
	}
}

func TestHealthz_FeedDownDegrades(t *testing.T) {
	h := NewHealthStatus()
	h.SetStoresEnabled(false, false)

	if status, _ := healthzStatus(t, h); status != "degraded" {
		t.Errorf("got %q, want degraded while feed is down", status)
	}
}

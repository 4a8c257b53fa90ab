package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harborwatch/fleetcore/internal/netmon"
)

func postConnectivity(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/connectivity", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestConnectivityHandler_DrivesMonitorEdges(t *testing.T) {
	monitor := netmon.New(nil)
	reconnects := 0
	monitor.OnOnline(func(ctx context.Context) { reconnects++ })
	handler := connectivityHandler(monitor)

	if rec := postConnectivity(t, handler, `{"online":false}`); rec.Code != http.StatusOK {
		t.Fatalf("offline report status = %d, want 200", rec.Code)
	}
	if monitor.IsOnline() {
		t.Fatal("monitor should be offline after the host reports a loss")
	}

	if rec := postConnectivity(t, handler, `{"online":true}`); rec.Code != http.StatusOK {
		t.Fatalf("online report status = %d, want 200", rec.Code)
	}
	if !monitor.IsOnline() {
		t.Error("monitor should be online after the host reports restoration")
	}
	if reconnects != 1 {
		t.Errorf("reconnect listeners fired %d times, want 1", reconnects)
	}

	// Repeating the same state is a no-op, not a second edge.
	postConnectivity(t, handler, `{"online":true}`)
	if reconnects != 1 {
		t.Errorf("reconnect listeners fired %d times after repeat, want 1", reconnects)
	}
}

func TestConnectivityHandler_RejectsBadRequests(t *testing.T) {
	handler := connectivityHandler(netmon.New(nil))

	req := httptest.NewRequest(http.MethodGet, "/connectivity", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	if rec := postConnectivity(t, handler, "not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

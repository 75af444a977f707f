package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
	"github.com/Dzordzu/o11y-389ds/internal/state"
)

func TestAdminAPI(t *testing.T) {
	store := state.New()
	publishOK(store, probe.Key{Kind: probe.KindMonitor})

	server := NewServer(store, "127.0.0.1:0")
	handler := server.AdminHandler()

	post := func(path string) int {
		t.Helper()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec.Code
	}

	if code := post("/mark/drain"); code != http.StatusNoContent {
		t.Fatalf("POST /mark/drain returned %d", code)
	}
	if !server.Marks().Get().Drain {
		t.Error("drain mark was not set")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status returned %d", rec.Code)
	}

	var status struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("status body: %v", err)
	}
	if status.Response != "up weight:0%\n" {
		t.Errorf("drained status response = %q", status.Response)
	}

	if code := post("/mark/ready"); code != http.StatusNoContent {
		t.Fatalf("POST /mark/ready returned %d", code)
	}
	if server.Marks().Get() != (Marks{}) {
		t.Errorf("ready did not clear the marks: %+v", server.Marks().Get())
	}
}

func TestEvaluateUsesLatestState(t *testing.T) {
	store := state.New()
	key := probe.Key{Kind: probe.KindMonitor}

	publishFailed(store, key)
	if got := Evaluate(store, Marks{}).String(); got != "fail #ldap is not reachable\n" {
		t.Fatalf("failed state response = %q", got)
	}

	// Recovery on the next publish.
	store.Publish(probe.Result{Key: key, ObservedAt: time.Now(), Payload: struct{}{}})
	if got := Evaluate(store, Marks{}).String(); got != "up weight:100%\n" {
		t.Errorf("recovered state response = %q", got)
	}
}

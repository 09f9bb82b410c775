package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"echomesh/internal/registry"
)

func TestHealthAndStats(t *testing.T) {
	reg := registry.NewRegistries()
	id := reg.Users.Login("alice", nil)
	reg.Rooms.Join("lobby", id)

	srv := New(reg, nil, nil)
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	healthResp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", healthResp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health payload: %#v", health)
	}

	statsResp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer statsResp.Body.Close()
	var stats statsResponse
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.OnlineUsers != 1 || stats.ActiveRooms != 1 {
		t.Fatalf("unexpected stats payload: %#v", stats)
	}
	if stats.Voice != nil {
		t.Fatal("expected nil voice stats when relay is nil")
	}
}

package main

import "testing"

func TestBuildAppDefaults(t *testing.T) {
	var captured Config
	app := buildApp(func(cfg Config) error {
		captured = cfg
		return nil
	})

	if err := app.Run([]string{"echomesh"}); err != nil {
		t.Fatalf("app.Run: %v", err)
	}

	if captured.StreamAddr != ":8888" {
		t.Errorf("stream addr: got %q, want %q", captured.StreamAddr, ":8888")
	}
	if captured.DatagramAddr != ":9999" {
		t.Errorf("datagram addr: got %q, want %q", captured.DatagramAddr, ":9999")
	}
	if captured.AdminAddr != "" {
		t.Errorf("admin addr: got %q, want empty (disabled by default)", captured.AdminAddr)
	}
	if captured.Workers < 1 {
		t.Errorf("expected at least 1 worker, got %d", captured.Workers)
	}
}

func TestBuildAppOverrides(t *testing.T) {
	var captured Config
	app := buildApp(func(cfg Config) error {
		captured = cfg
		return nil
	})

	args := []string{
		"echomesh",
		"-stream-port", "19000",
		"-datagram-port", "19001",
		"-workers", "4",
		"-admin-addr", ":9090",
		"-verbose",
	}
	if err := app.Run(args); err != nil {
		t.Fatalf("app.Run: %v", err)
	}

	if captured.StreamAddr != ":19000" {
		t.Errorf("stream addr: got %q, want %q", captured.StreamAddr, ":19000")
	}
	if captured.DatagramAddr != ":19001" {
		t.Errorf("datagram addr: got %q, want %q", captured.DatagramAddr, ":19001")
	}
	if captured.Workers != 4 {
		t.Errorf("workers: got %d, want 4", captured.Workers)
	}
	if captured.AdminAddr != ":9090" {
		t.Errorf("admin addr: got %q, want %q", captured.AdminAddr, ":9090")
	}
	if !captured.Verbose {
		t.Error("expected verbose to be true")
	}
}

package app

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/astroveda/astroclient/internal/config"
	"github.com/astroveda/astroclient/internal/util"
)

func testConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")

	cfg := config.Default()
	cfg.Identity.AstrologerID = "astro-1"
	cfg.Server.APIBase = "http://127.0.0.1:1/"
	cfg.Server.SignalingURL = "ws://127.0.0.1:1/socket"
	if err := util.WriteJSONFile(cfgPath, cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, cfg
}

func TestRunStartsAndStops(t *testing.T) {
	cfgPath, cfg := testConfig(t)

	a, err := New(Options{CfgPath: cfgPath, Cfg: cfg, ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Unreachable endpoints must not keep the app from coming up.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRunFailsOnBusyPort(t *testing.T) {
	cfgPath, cfg := testConfig(t)

	// Grab a port so the app's bind collides.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot reserve port: %v", err)
	}
	defer ln.Close()

	a, err := New(Options{CfgPath: cfgPath, Cfg: cfg, ListenAddr: ln.Addr().String()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Run(ctx); err == nil {
		t.Fatal("Run succeeded on an occupied port")
	}
}

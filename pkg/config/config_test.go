package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.FilterCapacity != 100000 || cfg.Node.FilterFPRate != 0.01 {
		t.Errorf("filter defaults = %d/%v", cfg.Node.FilterCapacity, cfg.Node.FilterFPRate)
	}
	if cfg.Driver.IdleBackoff != 5*time.Second {
		t.Errorf("idle backoff = %v, want 5s", cfg.Driver.IdleBackoff)
	}
	if cfg.Dispatcher.TopTerms != 10 {
		t.Errorf("top terms = %d, want 10", cfg.Dispatcher.TopTerms)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := writeConfig(t, `
node:
  name: barrel-a
  peerAddr: localhost:7002
dispatcher:
  nodes:
    - name: a
      addr: localhost:7001
    - name: b
      addr: localhost:7002
`)
	t.Setenv("RCS_NODE_NAME", "barrel-env")
	t.Setenv("RCS_DRIVER_NODES", "x=h1:1, y=h2:2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Name != "barrel-env" {
		t.Errorf("env override ignored: name = %q", cfg.Node.Name)
	}
	if cfg.Node.PeerAddr != "localhost:7002" {
		t.Errorf("peer addr = %q", cfg.Node.PeerAddr)
	}
	if len(cfg.Dispatcher.Nodes) != 2 || cfg.Dispatcher.Nodes[1].Name != "b" {
		t.Errorf("dispatcher nodes = %+v", cfg.Dispatcher.Nodes)
	}
	if len(cfg.Driver.Nodes) != 2 || cfg.Driver.Nodes[1] != (Endpoint{Name: "y", Addr: "h2:2"}) {
		t.Errorf("driver nodes = %+v", cfg.Driver.Nodes)
	}
}

func TestLoadRejectsDuplicateNodeNames(t *testing.T) {
	path := writeConfig(t, `
dispatcher:
  nodes:
    - {name: a, addr: "h:1"}
    - {name: a, addr: "h:2"}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected duplicate node names to be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sortbench", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.BridgePort != 8777 || cfg.SimilarLimit != 50 {
		t.Errorf("defaults: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Groups, []string{"good", "mua", "noise"}) {
		t.Errorf("default groups: %v", cfg.Groups)
	}
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "version: 1\nbridge_port: 9000\nsimilar_limit: 10\ngroups:\n  - Good\n  - noise\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BridgePort != 9000 || cfg.SimilarLimit != 10 {
		t.Errorf("parsed values: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Groups, []string{"good", "noise"}) {
		t.Errorf("groups should be normalized: %v", cfg.Groups)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	for _, body := range []string{
		"version: 1\nbridge_port: 70000\n",
		"version: 1\nsimilar_limit: -1\n",
		"version: 1\ngroups:\n  - ''\n",
	} {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("expected error for %q", body)
		}
	}
}

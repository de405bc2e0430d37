package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDiscoverWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "[vm]\ngas_limit = 5\n\n[storage]\ndir = \"state\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := Discover(nested)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if cfg.VM.GasLimit != 5 {
		t.Fatalf("gas_limit = %d", cfg.VM.GasLimit)
	}
	if cfg.VM.MaxCallDepth != 256 {
		t.Fatalf("max_call_depth default lost: %d", cfg.VM.MaxCallDepth)
	}
	if want := filepath.Join(root, "state"); cfg.Storage.Dir != want {
		t.Fatalf("storage dir = %q, want %q", cfg.Storage.Dir, want)
	}
	if cfg.Path == "" {
		t.Fatal("Path not recorded")
	}
}

func TestDiscoverWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Discover(t.TempDir())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if cfg.Path != "" || cfg.VM.GasLimit != 1_000_000 || cfg.StdAddress().String() != "0x1" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "[vm\n", "failed to parse TOML"},
		{"unknown key", "[vm]\nspeed = 3\n", "unknown key"},
		{"empty storage", "[storage]\n", "missing [storage].dir"},
		{"depth", "[vm]\nmax_call_depth = 0\n", "max_call_depth"},
		{"address", "[vm]\nstd_address = \"zz\"\n", "std_address"},
		{"level", "[trace]\nlevel = \"loud\"\n", "[trace].level"},
		{"mode", "[trace]\nmode = \"tape\"\n", "[trace].mode"},
		{"jobs", "[prewarm]\njobs = -1\n", "jobs"},
	}
	for _, tc := range cases {
		path := writeFile(t, t.TempDir(), tc.body)
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want %q", tc.name, err, tc.want)
		}
	}
}

func TestMemoryStorageIsNotResolved(t *testing.T) {
	path := writeFile(t, t.TempDir(), "[storage]\ndir = \":memory:\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Dir != MemoryDir {
		t.Fatalf("dir = %q", cfg.Storage.Dir)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("rpc:\n  socket_path: /tmp/test.sock\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("rpc:\n  socket_path: /tmp/test.sock\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("rpc:\n  socket_path: ${SPACED_TEST_SOCKET}\n"), 0600)
	os.Setenv("SPACED_TEST_SOCKET", "/tmp/spaced-test.sock")
	defer os.Unsetenv("SPACED_TEST_SOCKET")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RPC.SocketPath != "/tmp/spaced-test.sock" {
		t.Errorf("socket_path = %q, want %q", cfg.RPC.SocketPath, "/tmp/spaced-test.sock")
	}
}

func TestDefault_ApplysAllDefaults(t *testing.T) {
	cfg := Default()

	if cfg.RPC.SocketPath == "" {
		t.Error("expected a default rpc.socket_path")
	}
	if cfg.Helper.SocketPath == "" {
		t.Error("expected a default helper.socket_path")
	}
	if cfg.RPC.SocketPath == cfg.Helper.SocketPath {
		t.Error("default rpc and helper socket paths must differ")
	}
	if cfg.Reconcile.Interval != 3*time.Second {
		t.Errorf("default reconcile.interval = %s, want 3s", cfg.Reconcile.Interval)
	}
	if cfg.Mutation.VerifyAttempts != 10 {
		t.Errorf("default mutation.verify_attempts = %d, want 10", cfg.Mutation.VerifyAttempts)
	}
	if cfg.Mutation.VerifyInterval != 20*time.Millisecond {
		t.Errorf("default mutation.verify_interval = %s, want 20ms", cfg.Mutation.VerifyInterval)
	}
	if cfg.Debug.Enabled {
		t.Error("debug dashboard must be disabled by default")
	}
}

func TestValidate_RejectsSharedSocketPath(t *testing.T) {
	cfg := Default()
	cfg.Helper.SocketPath = cfg.RPC.SocketPath

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when rpc and helper share a socket path")
	}
}

func TestValidate_RejectsNonPositiveReconcileInterval(t *testing.T) {
	cfg := Default()
	cfg.Reconcile.Interval = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero reconcile.interval")
	}
}

func TestValidate_RejectsZeroVerifyAttempts(t *testing.T) {
	cfg := Default()
	cfg.Mutation.VerifyAttempts = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for verify_attempts < 1")
	}
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "not-a-level"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log_level")
	}
}

func TestValidate_AcceptsDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config failed validation: %v", err)
	}
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crest/internal/config"
	"crest/internal/daemon"
	"crest/internal/ledger"
	"crest/internal/observation"
	"crest/internal/pipeline"
	"crest/internal/rescan"
	"crest/internal/testsupport"
	"crest/internal/uts"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	records    *ledger.Store
	collector  *stubCollector
	configPath string
}

type stubCollector struct {
	discovered []observation.RawRecord
}

func (s *stubCollector) Discover(ctx context.Context, keywords []string, limit int) ([]observation.RawRecord, error) {
	return s.discovered, nil
}

func (s *stubCollector) Reacquire(ctx context.Context, urls []string) ([]observation.RawRecord, error) {
	return nil, nil
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithRescanDelayMinutes(60))
	cfg.Collector.MinViews = 0

	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	records := testsupport.MustOpenLedger(t, cfg)
	batches := testsupport.MustOpenRescanStore(t, cfg)
	stub := &stubCollector{}
	scheduler := rescan.NewScheduler(cfg, batches, records, stub, uts.NewScorer(cfg.Scoring), nil)
	processor := pipeline.New(cfg, nil, stub, nil, records, scheduler)

	d, err := daemon.New(cfg, records, batches, scheduler, processor, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(t.Context()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		records:    records,
		collector:  stub,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, addr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--addr", addr}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("expected output to contain %q, got %q", want, out)
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\napi_bind = %q\n\n[collector]\nbase_url = %q\napi_token = %q\n",
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Collector.BaseURL,
		cfg.Collector.APIToken,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestCLIScanCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.collector.discovered = []observation.RawRecord{
		testsupport.RawRecord("alpha", "sound-1", 100000, 1000),
		testsupport.RawRecord("beta", "sound-1", 5000, 500),
	}

	out, _, err := runCLI(t, []string{"scan", "dance", "challenge"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "Dance Challenge")
	requireContains(t, out, "alpha")
	requireContains(t, out, "beta")

	out, _, err = runCLI(t, []string{"deep-scan", "--owner", "owner-1", "dance"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("deep-scan: %v", err)
	}
	requireContains(t, out, "alpha")
	requireContains(t, out, "Rescan batch")

	stats, err := env.records.Stats(context.Background())
	if err != nil {
		t.Fatalf("ledger stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 persisted records, got %d", stats.Total)
	}
}

func TestCLIDeepScanRequiresOwner(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"deep-scan", "dance"}, env.daemon.APIAddr(), env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--owner") {
		t.Fatalf("expected owner error, got %v", err)
	}
}

func TestCLIResultsSaveAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	env.collector.discovered = []observation.RawRecord{
		testsupport.RawRecord("alpha", "sound-1", 100000, 1000),
		testsupport.RawRecord("beta", "sound-2", 5000, 500),
	}

	if _, _, err := runCLI(t, []string{"deep-scan", "--owner", "owner-1", "dance"}, env.daemon.APIAddr(), env.configPath); err != nil {
		t.Fatalf("deep-scan: %v", err)
	}

	out, _, err := runCLI(t, []string{"save", "--owner", "owner-1", "alpha"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	requireContains(t, out, "Record alpha saved")

	out, _, err = runCLI(t, []string{"saved", "--owner", "owner-1"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("saved: %v", err)
	}
	requireContains(t, out, "alpha")

	out, _, err = runCLI(t, []string{"clear", "--owner", "owner-1"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	requireContains(t, out, "Cleared")

	out, _, err = runCLI(t, []string{"results", "--owner", "owner-1"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	requireContains(t, out, "No records")
}

func TestCLIStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running")
	requireContains(t, out, "trends.db")
}

func TestCLIStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", "--json"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	requireContains(t, out, `"running": true`)
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite error, got %v", err)
	}
}

func TestCLIShowCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	logPath := filepath.Join(env.cfg.Paths.LogDir, "crest.log")
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	out, _, err := runCLI(t, []string{"show", "--lines", "2"}, env.daemon.APIAddr(), env.configPath)
	if err != nil {
		t.Fatalf("show --lines: %v", err)
	}
	requireContains(t, out, "second")
	requireContains(t, out, "third")
	if strings.Contains(out, "first") {
		t.Fatalf("expected only trailing lines, got %q", out)
	}
}

func TestCLIShowFollow(t *testing.T) {
	env := setupCLITestEnv(t)

	logPath := filepath.Join(env.cfg.Paths.LogDir, "crest.log")
	if err := os.WriteFile(logPath, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", env.daemon.APIAddr(), "--config", env.configPath, "show", "--follow"})
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Execute()
	}()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log for append: %v", err)
	}
	if _, err := f.WriteString("followed\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	f.Close()

	time.Sleep(600 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("show --follow execute: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("show --follow did not exit")
	}

	requireContains(t, stdout.String(), "followed")
}

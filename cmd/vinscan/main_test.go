package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vinscan/internal/api"
	"vinscan/internal/config"
	"vinscan/internal/daemon"
	"vinscan/internal/device"
	"vinscan/internal/logging"
	"vinscan/internal/scanner"
	"vinscan/internal/session"
	"vinscan/internal/testsupport"
)

const testVIN = "1M8GDM9AXKP042788"

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

// startTestDaemon serves the daemon API in-process and rewrites the config
// file so the CLI talks to the bound address.
func startTestDaemon(t *testing.T, env *cliTestEnv) *daemon.Daemon {
	t.Helper()
	store := testsupport.MustOpenStore(t, env.cfg)
	d, err := daemon.New(env.cfg, store, logging.NewNop(),
		daemon.WithoutWatcher(),
		daemon.WithLister(func(context.Context) ([]device.Info, error) { return nil, nil }),
		daemon.WithScannerOptions(scanner.WithSessionOptions(
			session.WithOpener(device.FileOpener{}),
			session.WithDrainPollInterval(5*time.Millisecond),
		)),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	env.cfg.Paths.APIBind = d.APIAddress()
	writeTestConfig(t, env.configPath, env.cfg)
	return d
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeBarcode(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	path := filepath.Join(env.baseDir, "images", "vin.png")
	testsupport.WriteBarcodePNG(t, path, testVIN)
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestVINCommand(t *testing.T) {
	out, _, err := runCLI(t, []string{"vin", testVIN}, "")
	if err != nil {
		t.Fatalf("vin: %v", err)
	}
	requireContains(t, out, testVIN+"\tyes")

	_, _, err = runCLI(t, []string{"vin", testVIN, "1M8GDM9AYKP042788"}, "")
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected one invalid value, got %v", err)
	}
}

func TestVINCommandJSON(t *testing.T) {
	out, _, err := runCLI(t, []string{"vin", "--json", "1m8gdm9axkpo42788"}, "")
	if err == nil {
		t.Fatal("expected lowercase input to be reported invalid")
	}
	var infos []struct {
		IsValid     bool   `json:"is_valid"`
		Canonical   string `json:"canonical"`
		CanonicalOK bool   `json:"canonical_ok"`
	}
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode json: %v (%s)", err, out)
	}
	if len(infos) != 1 || infos[0].IsValid || !infos[0].CanonicalOK || infos[0].Canonical != testVIN {
		t.Fatalf("unexpected info %+v", infos)
	}
}

func TestDecodeCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	image := writeBarcode(t, env)

	out, _, err := runCLI(t, []string{"decode", image}, env.configPath)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	requireContains(t, out, image+"\t"+testVIN+"\tyes")

	_, _, err = runCLI(t, []string{"decode", filepath.Join(env.baseDir, "missing.png")}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unreadable image")
	}
}

func TestScanImageRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	image := writeBarcode(t, env)

	out, _, err := runCLI(t, []string{"scan", "--image", image, "--count", "2", "--interval", "0s", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var results []api.ScanResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode scan json: %v (%s)", err, out)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Found || r.Barcode != testVIN || r.VIN == nil || !r.VIN.IsValid {
			t.Fatalf("unexpected result %+v", r)
		}
	}

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var resp api.HistoryResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode history json: %v (%s)", err, out)
	}
	if len(resp.Scans) != 2 || resp.Summary.Valid != 2 {
		t.Fatalf("unexpected history %+v", resp)
	}
	if resp.Scans[0].SessionID != results[0].SessionID {
		t.Fatalf("history session %q, scan session %q", resp.Scans[0].SessionID, results[0].SessionID)
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history table: %v", err)
	}
	requireContains(t, out, "2 scans, 2 with a barcode, 2 valid VINs")
}

func TestScanNoRecordSkipsHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	image := writeBarcode(t, env)

	out, _, err := runCLI(t, []string{"scan", "--image", image, "--no-record"}, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, testVIN)

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No scans recorded")
}

func TestScanRejectsImageAndDevice(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"scan", "--image", "a.png", "--device", "/dev/video0"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected flag conflict, got %v", err)
	}
}

func TestProbeWithStubbedFFmpeg(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())

	out, _, err := runCLI(t, []string{"probe"}, env.configPath)
	if err != nil {
		t.Fatalf("probe: %v\n%s", err, out)
	}
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "[OK]")
}

func TestConfigInitShowValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "vinscan", "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, env.cfg.Paths.StateDir)

	out, _, err = runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestDaemonStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	startTestDaemon(t, env)

	out, _, err := runCLI(t, []string{"daemon", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "Idle")

	out, _, err = runCLI(t, []string{"devices", "--daemon", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	requireContains(t, out, "[]")
}

func TestDaemonStatusNotRunning(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Paths.APIBind = "127.0.0.1:1"
	writeTestConfig(t, env.configPath, env.cfg)

	out, _, err := runCLI(t, []string{"daemon", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("daemon status: %v", err)
	}
	requireContains(t, out, "Not running")

	out, _, err = runCLI(t, []string{"daemon", "stop"}, env.configPath)
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestScanThroughDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	d := startTestDaemon(t, env)
	image := writeBarcode(t, env)

	out, _, err := runCLI(t, []string{"scan", "--daemon", "--image", image, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("scan --daemon: %v", err)
	}
	var results []api.ScanResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode scan json: %v (%s)", err, out)
	}
	if len(results) != 1 || results[0].Barcode != testVIN || results[0].ScanID == 0 {
		t.Fatalf("unexpected results %+v", results)
	}
	if st := d.Scanner().Status(); st.Running {
		t.Fatalf("expected the session opened by scan to be stopped, got %+v", st)
	}
}

func TestLogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No daemon log")

	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	content := "one\ntwo\nthree\n"
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "vinscand.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, _, err = runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}

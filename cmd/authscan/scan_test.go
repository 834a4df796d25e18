package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/authlog/internal/config"
	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
	"github.com/therealutkarshpriyadarshi/authlog/internal/output"
	"github.com/therealutkarshpriyadarshi/authlog/internal/shutdown"
)

const scanLog = `Feb 03 12:00:01 server1 sshd[1001]: Failed password for root from 10.0.0.99 port 41234 ssh2
Feb 03 12:00:02 server1 sshd[1002]: Failed password for root from 10.0.0.99 port 41235 ssh2
Feb 03 12:00:03 server1 CRON[4242]: pam_unix(cron:session): session opened for user root by (uid=0)
Feb 03 12:00:04 server1 sshd[1003]: Failed password for admin from 10.0.0.99 port 41236 ssh2
Feb 03 12:00:05 server1 sshd[1004]: Accepted password for deploy from 192.168.1.15 port 50000 ssh2
Feb 03 12:00:06 server1 sshd[1005]: Failed password for root from 10.0.0.99 port 41237 ssh2
`

// TestScan runs the whole pipeline against a log file and reads the
// records back from the JSON sink
func TestScan(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auth.log")
	outPath := filepath.Join(dir, "out.ndjson")
	promPath := filepath.Join(dir, "authscan.prom")

	if err := os.WriteFile(logPath, []byte(scanLog), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Input.Type = config.DefaultInputType
	cfg.Input.Path = logPath
	cfg.Analysis.Threshold = 3
	cfg.Output.Sinks = []config.SinkConfig{{
		Name: "json",
		Type: config.SinkJSON,
		JSON: &config.JSONOutputConfig{Path: outPath},
	}}
	cfg.Metrics = &config.MetricsConfig{Enabled: true, TextfilePath: promPath}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	logger := logging.Nop()
	shutdownMgr := shutdown.New(shutdown.Config{Timeout: 5 * time.Second, Logger: logger})

	if err := scan(context.Background(), cfg, logger, shutdownMgr); err != nil {
		t.Fatalf("scan() error = %v", err)
	}
	if err := shutdownMgr.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("invalid record %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	alert, report := records[0], records[1]
	if alert["type"] != output.KindAlert || alert["source_address"] != "10.0.0.99" {
		t.Errorf("unexpected alert record %v", alert)
	}
	if report["type"] != output.KindReport {
		t.Fatalf("unexpected report record %v", report)
	}
	if alert["run_id"] == "" || alert["run_id"] != report["run_id"] {
		t.Errorf("run ids differ: %v and %v", alert["run_id"], report["run_id"])
	}

	tests := []struct {
		field string
		want  float64
	}{
		{"total_events", 5},
		{"accepted_events", 1},
		{"failed_events", 4},
		{"skipped_lines", 1},
		{"threshold", 3},
	}
	for _, tt := range tests {
		if got, _ := report[tt.field].(float64); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.field, report[tt.field], tt.want)
		}
	}
	if report["partial"] != false {
		t.Errorf("partial = %v, want false", report["partial"])
	}

	prom, err := os.ReadFile(promPath)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(prom), "authlog_aggregate_alerts_total 1") {
		t.Errorf("textfile missing alert counter:\n%s", prom)
	}
}

func TestScan_MissingFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Input.Type = config.DefaultInputType
	cfg.Input.Path = filepath.Join(t.TempDir(), "missing.log")
	cfg.Output.Sinks = []config.SinkConfig{{
		Name: "json",
		Type: config.SinkJSON,
		JSON: &config.JSONOutputConfig{Path: filepath.Join(t.TempDir(), "out.ndjson")},
	}}

	logger := logging.Nop()
	shutdownMgr := shutdown.New(shutdown.Config{Timeout: 5 * time.Second, Logger: logger})
	defer shutdownMgr.Shutdown()

	if err := scan(context.Background(), cfg, logger, shutdownMgr); err == nil {
		t.Error("Expected error for missing log file")
	}
}

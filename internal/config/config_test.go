package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/export"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}

	if got := cfg.GetServerAddr(); got != DefaultServerAddr {
		t.Errorf("GetServerAddr() = %q, want %q", got, DefaultServerAddr)
	}
	if got := cfg.GetUDPListenAddr(); got != DefaultUDPListenAddr {
		t.Errorf("GetUDPListenAddr() = %q, want %q", got, DefaultUDPListenAddr)
	}
	if got := cfg.GetReconnectDelay(); got != DefaultReconnectDelay {
		t.Errorf("GetReconnectDelay() = %v, want %v", got, DefaultReconnectDelay)
	}
	if got := cfg.GetRecordFormat(); got != "csv-simple" {
		t.Errorf("GetRecordFormat() = %q, want csv-simple", got)
	}
	if got := cfg.GetExportFormat(); got != export.FormatCSV {
		t.Errorf("GetExportFormat() = %q, want csv", got)
	}
	if got := cfg.GetExportQueue(); got != export.DefaultQueueSize {
		t.Errorf("GetExportQueue() = %d, want %d", got, export.DefaultQueueSize)
	}
	if got := cfg.GetMACAllowList(); len(got) != 1 || got[0] != "No Filter" {
		t.Errorf("GetMACAllowList() = %v, want [No Filter]", got)
	}
	if cfg.GetMACFilterRecording() || cfg.GetMACFilterExport() {
		t.Error("MAC filtering should be off by default")
	}
	if got := cfg.GetGRPCListen(); got != "" {
		t.Errorf("GetGRPCListen() = %q, want empty", got)
	}

	want := wire.Config{Variant: wire.VariantRSSI, NativeSubcarriers: 64}
	if diff := cmp.Diff(want, cfg.DecoderConfig()); diff != "" {
		t.Errorf("DecoderConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "host.json", `{
  "server_addr": "10.0.0.2:5501",
  "variant": "plain",
  "native_subcarriers": 128,
  "display_subcarriers": 64,
  "export_subcarriers": 52,
  "record_format": "binary",
  "mac_allow_list": ["AA:BB:CC:DD:EE:01"],
  "mac_filter_recording": true,
  "export_format": "proto",
  "reconnect_delay": "500ms",
  "filters": {"smooth.cfi": {"active": true, "priority": 2, "params": {"alpha": "0.3"}}}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.GetServerAddr(); got != "10.0.0.2:5501" {
		t.Errorf("GetServerAddr() = %q", got)
	}
	want := wire.Config{Variant: wire.VariantPlain, NativeSubcarriers: 128, DisplayLength: 64, ExportLength: 52}
	if diff := cmp.Diff(want, cfg.DecoderConfig()); diff != "" {
		t.Errorf("DecoderConfig() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.GetReconnectDelay(); got != 500*time.Millisecond {
		t.Errorf("GetReconnectDelay() = %v, want 500ms", got)
	}
	if !cfg.GetMACFilterRecording() || cfg.GetMACFilterExport() {
		t.Error("expected recording filter only")
	}
	if got := cfg.GetExportFormat(); got != export.FormatProto {
		t.Errorf("GetExportFormat() = %q, want proto", got)
	}
	p, ok := cfg.Filters["smooth.cfi"]
	if !ok {
		t.Fatal("missing filter preset")
	}
	if p.Active == nil || !*p.Active || p.Priority == nil || *p.Priority != 2 || p.Params["alpha"] != "0.3" {
		t.Errorf("unexpected preset %+v", p)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "host.yaml", `
udp_listen_addr: ":6000"
native_subcarriers: 256
record_format: sqlite
record_path: /tmp/csi.db
nats_url: nats://127.0.0.1:4222
filters:
  mean.cfi:
    priority: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetUDPListenAddr(); got != ":6000" {
		t.Errorf("GetUDPListenAddr() = %q", got)
	}
	if got := cfg.DecoderConfig().NativeSubcarriers; got != 256 {
		t.Errorf("NativeSubcarriers = %d, want 256", got)
	}
	if got := cfg.GetRecordFormat(); got != FormatSQLite {
		t.Errorf("GetRecordFormat() = %q, want sqlite", got)
	}
	if got := cfg.GetRecordPath(); got != "/tmp/csi.db" {
		t.Errorf("GetRecordPath() = %q", got)
	}
	if cfg.NATSURL == nil || *cfg.NATSURL != "nats://127.0.0.1:4222" {
		t.Errorf("NATSURL = %v", cfg.NATSURL)
	}
	if p := cfg.Filters["mean.cfi"]; p.Priority == nil || *p.Priority != 3 || p.Active != nil {
		t.Errorf("unexpected preset %+v", p)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "host.toml", `x = 1`, "extension"},
		{"syntax", "host.json", `{`, "failed to parse"},
		{"variant", "host.json", `{"variant": "bogus"}`, "unknown wire variant"},
		{"native", "host.json", `{"native_subcarriers": 100}`, "unsupported native"},
		{"negative length", "host.json", `{"display_subcarriers": -1}`, "negative target"},
		{"delay", "host.yaml", `reconnect_delay: soon`, "reconnect_delay"},
		{"zero delay", "host.yaml", `reconnect_delay: 0s`, "must be positive"},
		{"record format", "host.json", `{"record_format": "xml"}`, "unknown record format"},
		{"export format", "host.json", `{"export_format": "xml"}`, "unknown export format"},
		{"queue", "host.json", `{"export_queue": 0}`, "export_queue"},
		{"priority", "host.yaml", "filters:\n  a.cfi:\n    priority: 0\n", "priority must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingAndOversized(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}

	big := writeFile(t, "big.json", `{"server_addr": "`+strings.Repeat("x", maxFileSize)+`"}`)
	_, err := Load(big)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	addr := "0.0.0.0:9000"
	queue := 64
	active := false
	cfg := &Config{
		HTTPListen:   &addr,
		ExportQueue:  &queue,
		MACAllowList: []string{"aa:bb:cc:dd:ee:ff"},
		Filters:      map[string]FilterPreset{"x.cfi": {Active: &active}},
	}

	for _, name := range []string{"out.json", "out.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(cfg, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if err := cfg.Save(filepath.Join(t.TempDir(), "out.ini")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestHTTPListenDisable(t *testing.T) {
	empty := ""
	cfg := &Config{HTTPListen: &empty}
	if got := cfg.GetHTTPListen(); got != "" {
		t.Errorf("GetHTTPListen() = %q, want empty", got)
	}
}

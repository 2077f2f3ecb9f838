package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csistudio/internal/api"
	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/csi/bridge"
	"github.com/banshee-data/csistudio/internal/csi/stream"
	"github.com/banshee-data/csistudio/internal/csi/synth"
	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/monitoring"
	"github.com/banshee-data/csistudio/internal/recorder"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestHostFlagsOverrideConfig(t *testing.T) {
	var f hostFlags
	cmd := &cobra.Command{Use: "x"}
	f.register(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--native", "128", "--mac", "aa:bb:cc:dd:ee:ff", "--export-exec", "cat", "--http", ""}))

	variant := "plain"
	cfg := &config.Config{Variant: &variant}
	require.NoError(t, f.apply(cmd, cfg))

	dc := cfg.DecoderConfig()
	assert.Equal(t, 128, dc.NativeSubcarriers)
	assert.Equal(t, wire.VariantPlain, dc.Variant, "unset flags keep the file value")
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, cfg.MACAllowList)
	assert.Equal(t, []string{"cat"}, cfg.ExportCommand)
	assert.Equal(t, "", cfg.GetHTTPListen())
	assert.Nil(t, cfg.RecordFormat)

	require.NoError(t, cmd.Flags().Parse([]string{"--native", "100"}))
	assert.Error(t, f.apply(cmd, cfg))
}

func TestSplitRecordPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		in, dir, file string
	}{
		{"", ".", ""},
		{dir, dir, ""},
		{filepath.Join(dir, "run.csv"), dir, "run.csv"},
	}
	for _, tt := range tests {
		d, f := splitRecordPath(tt.in)
		assert.Equal(t, tt.dir, d, tt.in)
		assert.Equal(t, tt.file, f, tt.in)
	}
}

func TestParseMode(t *testing.T) {
	m, err := parseMode("direct")
	require.NoError(t, err)
	assert.Equal(t, bridge.ModeDirect, m)
	m, err = parseMode("")
	require.NoError(t, err)
	assert.Equal(t, bridge.ModeBuffered, m)
	_, err = parseMode("bulk")
	assert.Error(t, err)
}

func TestLoadPipelineBuiltinsAndPresets(t *testing.T) {
	active := true
	p := loadPipeline(filepath.Join(t.TempDir(), "missing"), map[string]config.FilterPreset{
		"builtin:rssi-smoothing": {Active: &active},
	}, nil)
	defer p.Close()

	infos := api.DescribeFilters(p)
	require.Len(t, infos, 1)
	assert.Equal(t, "builtin:rssi-smoothing", infos[0].File)
	assert.True(t, infos[0].Active)

	var buf bytes.Buffer
	require.NoError(t, printFilters(&buf, infos, false))
	assert.Contains(t, buf.String(), "builtin:rssi-smoothing")
	assert.Contains(t, buf.String(), "PRIORITY")

	buf.Reset()
	require.NoError(t, printFilters(&buf, infos, true))
	assert.Contains(t, buf.String(), `"file": "builtin:rssi-smoothing"`)
}

func writeBinaryRecording(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wbin")
	r, err := recorder.Open(path, recorder.FormatBinary, 4, time.Now())
	require.NoError(t, err)
	for i := 0; i < frames; i++ {
		rec := csi.Record{
			Timestamp:    time.Unix(1700000000, int64(i)),
			MAC:          csi.MAC{1, 2, 3, 4, 5, 6},
			RSSI:         -40,
			NSubcarriers: 4,
		}
		for k := 0; k < 4; k++ {
			rec.Amplitude[k] = float64(k + i)
		}
		require.NoError(t, r.WriteRecord(&rec))
	}
	require.NoError(t, r.Close())
	return path
}

func TestConvertRecording(t *testing.T) {
	in := writeBinaryRecording(t, 3)
	out := filepath.Join(t.TempDir(), "out.csv")

	n, err := convertRecording(in, out, "csv-compact")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp;MAC;RSSI;frame_control;a0;p0;a1;p1;a2;p2;a3;p3", lines[0])

	_, err = convertRecording(in, out, "xml")
	assert.Error(t, err)
	_, err = convertRecording(out, filepath.Join(t.TempDir(), "x.csv"), "csv-simple")
	assert.Error(t, err, "CSV input is not a binary recording")
}

// serveFrames accepts one client on a loopback listener, writes frames to
// it and closes the connection.
func serveFrames(t *testing.T, frames [][]byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if _, err := conn.Write(f); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestRunHostRecordsStream(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	g := synth.NewGenerator(wire.VariantRSSI, 64, clock)
	g.Seed(7)
	var frames [][]byte
	for i := 0; i < 5; i++ {
		frames = append(frames, g.AppendRelayFrame(nil))
	}
	addr := serveFrames(t, frames)

	dir := t.TempDir()
	recordPath := filepath.Join(dir, "live.csv")
	format := "csv-compact"
	noHTTP := ""
	display := 32
	cfg := &config.Config{
		HTTPListen:         &noHTTP,
		FilterDir:          &dir,
		RecordFormat:       &format,
		RecordPath:         &recordPath,
		DisplaySubcarriers: &display,
	}
	h, err := newHost(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = runHost(ctx, h, stream.NewTCPSource(addr, 64), true, true)
	require.NoError(t, err)

	data, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 6, "header plus one line per frame")

	senders := h.hub.Senders()
	assert.ElementsMatch(t, synth.DefaultSenders, senders)
	latest, ok := h.hub.Latest(synth.DefaultSenders[0])
	require.True(t, ok)
	assert.Len(t, latest.Amplitude, 32)
}

func TestRunHostSQLite(t *testing.T) {
	g := synth.NewGenerator(wire.VariantRSSI, 64, nil)
	addr := serveFrames(t, [][]byte{g.AppendRelayFrame(nil), g.AppendRelayFrame(nil)})

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "rec.db")
	format := "sqlite"
	noHTTP := ""
	cfg := &config.Config{HTTPListen: &noHTTP, FilterDir: &dir, RecordFormat: &format, RecordPath: &dbPath}
	h, err := newHost(cfg)
	require.NoError(t, err)
	store := h.store

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runHost(ctx, h, stream.NewTCPSource(addr, 64), true, true))

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/csistudio/internal/api"
	"github.com/banshee-data/csistudio/internal/config"
	"github.com/banshee-data/csistudio/internal/csi/filter"
	"github.com/banshee-data/csistudio/internal/csi/stream"
	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/db"
	"github.com/banshee-data/csistudio/internal/display"
	"github.com/banshee-data/csistudio/internal/export"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

// defaultDBFile holds sqlite recordings when record_path is not set.
const defaultDBFile = "csi_recordings.db"

// hostFlags are the command-line overrides shared by stream and replay.
type hostFlags struct {
	variant      string
	native       int
	display      int
	export       int
	filterDir    string
	httpListen   string
	grpcListen   string
	record       bool
	recordFormat string
	recordPath   string
	exportFormat string
	exportExec   []string
	natsURL      string
	macs         []string
}

func (f *hostFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.variant, "variant", "rssi", "wire variant: rssi or plain")
	fs.IntVar(&f.native, "native", 64, "native subcarriers per frame (64, 128 or 256)")
	fs.IntVar(&f.display, "display", 0, "display subcarriers (0 = native)")
	fs.IntVar(&f.export, "export", 0, "export subcarriers (0 = native)")
	fs.StringVar(&f.filterDir, "filters", config.DefaultFilterDir, "filter plugin directory")
	fs.StringVar(&f.httpListen, "http", config.DefaultHTTPListen, "control API listen address (empty disables)")
	fs.StringVar(&f.grpcListen, "grpc", "", "gRPC health listen address (empty disables)")
	fs.BoolVar(&f.record, "record", false, "start recording immediately")
	fs.StringVar(&f.recordFormat, "record-format", "csv-simple", "recording format: csv-simple, csv-compact, binary or sqlite")
	fs.StringVar(&f.recordPath, "record-path", "", "recording file or directory (database file for sqlite)")
	fs.StringVar(&f.exportFormat, "export-format", "csv", "live export format: csv or proto")
	fs.StringArrayVar(&f.exportExec, "export-exec", nil, "command (and arguments, repeat the flag) fed live export on stdin")
	fs.StringVar(&f.natsURL, "nats", "", "NATS server URL for live export")
	fs.StringSliceVar(&f.macs, "mac", nil, "sender MAC allow-list (default: all)")
}

// apply copies the flags the user set onto cfg, so they override the file.
func (f *hostFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("variant") {
		cfg.Variant = &f.variant
	}
	if changed("native") {
		cfg.NativeSubcarriers = &f.native
	}
	if changed("display") {
		cfg.DisplaySubcarriers = &f.display
	}
	if changed("export") {
		cfg.ExportSubcarriers = &f.export
	}
	if changed("filters") {
		cfg.FilterDir = &f.filterDir
	}
	if changed("http") {
		cfg.HTTPListen = &f.httpListen
	}
	if changed("grpc") {
		cfg.GRPCListen = &f.grpcListen
	}
	if changed("record-format") {
		cfg.RecordFormat = &f.recordFormat
	}
	if changed("record-path") {
		cfg.RecordPath = &f.recordPath
	}
	if changed("export-format") {
		cfg.ExportFormat = &f.exportFormat
	}
	if changed("export-exec") {
		cfg.ExportCommand = f.exportExec
	}
	if changed("nats") {
		cfg.NATSURL = &f.natsURL
	}
	if changed("mac") {
		cfg.MACAllowList = f.macs
	}
	return cfg.Validate()
}

// host owns every component of a running stream host.
type host struct {
	cfg      *config.Config
	metrics  *monitoring.Metrics
	macs     *stream.MACList
	hub      *display.Hub
	health   *api.Health
	orch     *stream.Orchestrator
	store    *db.DB
	exporter *export.Exporter
	api      *api.Server
	http     *http.Server

	recordFile string
}

// newHost builds the decoder, pipeline, sinks and control surface.
func newHost(cfg *config.Config) (*host, error) {
	dec, err := wire.NewDecoder(cfg.DecoderConfig())
	if err != nil {
		return nil, err
	}
	h := &host{
		cfg:     cfg,
		metrics: monitoring.NewMetrics(),
		hub:     display.NewHub(display.DefaultMinInterval, nil),
		health:  api.NewHealth(),
	}
	macs, invalid := stream.NewMACList(cfg.GetMACAllowList()...)
	if len(invalid) > 0 {
		monitoring.Logf("Ignoring invalid allow-list entries: %v", invalid)
	}
	h.macs = macs

	var recordingAllow, exportAllow stream.AllowList
	if cfg.GetMACFilterRecording() {
		recordingAllow = macs
	}
	if cfg.GetMACFilterExport() {
		exportAllow = macs
	}

	h.orch, err = stream.New(stream.Config{
		Decoder:        dec,
		Pipeline:       loadPipeline(cfg.GetFilterDir(), cfg.Filters, h.metrics),
		Display:        h.hub,
		DisplayAllow:   macs,
		RecordingAllow: recordingAllow,
		ExportAllow:    exportAllow,
		Metrics:        h.metrics,
		OnEvent:        h.onEvent,
	})
	if err != nil {
		return nil, err
	}

	_, exportWindow := dec.Windows()
	recs := &api.Recordings{
		Format:      cfg.GetRecordFormat(),
		Subcarriers: exportWindow.Len(),
	}
	if cfg.GetRecordFormat() == config.FormatSQLite {
		path := cfg.GetRecordPath()
		if path == "" {
			path = defaultDBFile
		}
		h.store, err = db.Open(path)
		if err != nil {
			h.orch.Close()
			return nil, err
		}
		recs.DB = h.store
	} else {
		recs.Dir, h.recordFile = splitRecordPath(cfg.GetRecordPath())
	}

	h.api = api.NewServer(api.Config{
		Orchestrator: h.orch,
		MACs:         macs,
		Recordings:   recs,
		Display:      h.hub,
		DB:           h.store,
		Metrics:      h.metrics,
		Settings:     cfg,
	})
	return h, nil
}

// splitRecordPath separates a recording directory from an explicit file
// name. An empty path or an existing directory yields no file name.
func splitRecordPath(path string) (dir, file string) {
	if path == "" {
		return ".", ""
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path, ""
	}
	return filepath.Dir(path), filepath.Base(path)
}

// loadPipeline loads the plugins in dir plus the builtins, applies their
// defaults and then the configured presets. A missing directory leaves
// only the builtins.
func loadPipeline(dir string, presets map[string]config.FilterPreset, metrics *monitoring.Metrics) *filter.Pipeline {
	handles, err := filter.LoadDir(dir, nil)
	if err != nil {
		monitoring.Logf("Filters: %v", err)
	}
	for _, name := range filter.BuiltinNames() {
		b, err := filter.OpenBuiltin(name)
		if err != nil {
			monitoring.Logf("Filters: %v", err)
			continue
		}
		handles = append(handles, b)
	}
	p := filter.NewPipeline(handles...)
	p.SetMetrics(metrics)
	p.ApplyDefaults()
	if err := api.ApplyPresets(p, presets); err != nil {
		monitoring.Logf("Filter presets: %v", err)
	}
	return p
}

// onEvent runs on the consumer goroutine with the orchestrator locked; it
// must not call back into the orchestrator.
func (h *host) onEvent(e stream.Event) {
	h.health.OnEvent(e)
	switch e.Kind {
	case stream.EventStateChanged:
		monitoring.Logf("Stream state: %s", e.State)
	case stream.EventStreamStopped:
		if e.Err != nil {
			monitoring.Logf("Stream stopped: %v", e.Err)
		}
	case stream.EventRecordingStopped:
		monitoring.Logf("Recording stopped after write failure: %v", e.Err)
	case stream.EventNewSender:
		monitoring.Logf("New sender %s", e.MAC)
	}
}

// start brings up live export, the control API, the health service and,
// when record is set, a recording.
func (h *host) start(ctx context.Context, record bool) error {
	if err := h.startExport(ctx); err != nil {
		return err
	}
	if addr := h.cfg.GetGRPCListen(); addr != "" {
		if err := h.health.Start(addr); err != nil {
			return err
		}
	}
	if addr := h.cfg.GetHTTPListen(); addr != "" {
		mux, err := h.api.ServeMux()
		if err != nil {
			return err
		}
		h.http = &http.Server{
			Addr:              addr,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			monitoring.Logf("Control API listening on http://%s", addr)
			if err := h.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				monitoring.Logf("HTTP server error: %v", err)
			}
		}()
	}
	if record {
		name, err := h.api.StartRecording(api.RecordingRequest{File: h.recordFile})
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		monitoring.Logf("Recording to %s", name)
	}
	return nil
}

func (h *host) startExport(ctx context.Context) error {
	var pub export.Publisher
	var err error
	switch {
	case h.cfg.NATSURL != nil && *h.cfg.NATSURL != "":
		pub, err = export.DialNATS(*h.cfg.NATSURL, h.cfg.GetNATSSubject())
	case len(h.cfg.ExportCommand) > 0:
		pub, err = export.StartCommand(os.Stdout, os.Stderr, h.cfg.ExportCommand[0], h.cfg.ExportCommand[1:]...)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start live export: %w", err)
	}
	enc, err := export.Encoder(h.cfg.GetExportFormat())
	if err != nil {
		pub.Close()
		return err
	}
	h.exporter = export.New(pub, export.Config{QueueSize: h.cfg.GetExportQueue(), Metrics: h.metrics})
	h.exporter.Start(ctx)
	h.orch.SetExport(h.exporter, enc)
	monitoring.Logf("Live export (%s) to %s", h.cfg.GetExportFormat(), pub)
	return nil
}

// close tears down in reverse order of start.
func (h *host) close() error {
	var errs []error
	if h.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, h.http.Shutdown(ctx))
		cancel()
	}
	h.health.Stop()
	if h.exporter != nil {
		h.orch.SetExport(nil, nil)
		errs = append(errs, h.exporter.Close())
	}
	if _, err := h.api.StopRecording(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, h.orch.Close(), h.hub.Close())
	if h.store != nil {
		errs = append(errs, h.store.Close())
	}
	return errors.Join(errs...)
}

// runHost starts h, supervises src until ctx ends (or the first
// connection ends when once is set) and closes h.
func runHost(ctx context.Context, h *host, src stream.Source, record, once bool) error {
	if err := h.start(ctx, record); err != nil {
		h.close()
		return err
	}
	err := h.orch.Supervise(ctx, src, h.cfg.GetReconnectDelay(), once)
	st := h.orch.Status()
	monitoring.Logf("Decoded %d frames, rejected %d", st.FramesDecoded, st.FramesRejected)
	return errors.Join(err, h.close())
}

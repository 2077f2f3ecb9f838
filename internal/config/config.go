// Package config loads the host configuration from JSON or YAML files.
// Every field is optional; the Get* accessors supply defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/csistudio/internal/csi/stream"
	"github.com/banshee-data/csistudio/internal/csi/wire"
	"github.com/banshee-data/csistudio/internal/export"
	"github.com/banshee-data/csistudio/internal/recorder"
)

// Config is the host configuration. The schema matches the
// /api/config response so the same document can be saved and reloaded.
type Config struct {
	// Source
	ServerAddr     *string `json:"server_addr,omitempty" yaml:"server_addr,omitempty"`
	UDPListenAddr  *string `json:"udp_listen_addr,omitempty" yaml:"udp_listen_addr,omitempty"`
	ReconnectDelay *string `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"` // duration string like "2s"

	// Decoder
	Variant            *string `json:"variant,omitempty" yaml:"variant,omitempty"`
	NativeSubcarriers  *int    `json:"native_subcarriers,omitempty" yaml:"native_subcarriers,omitempty"`
	DisplaySubcarriers *int    `json:"display_subcarriers,omitempty" yaml:"display_subcarriers,omitempty"`
	ExportSubcarriers  *int    `json:"export_subcarriers,omitempty" yaml:"export_subcarriers,omitempty"`

	// Filters
	FilterDir *string                 `json:"filter_dir,omitempty" yaml:"filter_dir,omitempty"`
	Filters   map[string]FilterPreset `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Recording
	RecordFormat *string `json:"record_format,omitempty" yaml:"record_format,omitempty"`
	RecordPath   *string `json:"record_path,omitempty" yaml:"record_path,omitempty"`

	// Sender allow-lists
	MACAllowList       []string `json:"mac_allow_list,omitempty" yaml:"mac_allow_list,omitempty"`
	MACFilterRecording *bool    `json:"mac_filter_recording,omitempty" yaml:"mac_filter_recording,omitempty"`
	MACFilterExport    *bool    `json:"mac_filter_export,omitempty" yaml:"mac_filter_export,omitempty"`

	// Live export
	ExportFormat  *string  `json:"export_format,omitempty" yaml:"export_format,omitempty"`
	ExportQueue   *int     `json:"export_queue,omitempty" yaml:"export_queue,omitempty"`
	ExportCommand []string `json:"export_command,omitempty" yaml:"export_command,omitempty"`
	NATSURL       *string  `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	NATSSubject   *string  `json:"nats_subject,omitempty" yaml:"nats_subject,omitempty"`

	// Control surface
	HTTPListen *string `json:"http_listen,omitempty" yaml:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
}

// FilterPreset overrides a filter's load-time defaults. The key in
// Config.Filters is the filter file name.
type FilterPreset struct {
	Active   *bool             `json:"active,omitempty" yaml:"active,omitempty"`
	Priority *int              `json:"priority,omitempty" yaml:"priority,omitempty"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

const (
	DefaultServerAddr     = "127.0.0.1:5501"
	DefaultUDPListenAddr  = ":5500"
	DefaultReconnectDelay = 2 * time.Second
	DefaultFilterDir      = "filters"
	DefaultHTTPListen     = "127.0.0.1:8080"
	DefaultNATSSubject    = "csi.frames"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Load reads a .json, .yaml or .yml file. Omitted fields keep their
// defaults, so partial files are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes c to path in the format its extension selects.
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.Variant != nil {
		if _, err := wire.ParseVariant(*c.Variant); err != nil {
			return err
		}
	}
	if c.NativeSubcarriers != nil || c.DisplaySubcarriers != nil || c.ExportSubcarriers != nil {
		if err := c.DecoderConfig().Validate(); err != nil {
			return err
		}
	}
	if c.ReconnectDelay != nil && *c.ReconnectDelay != "" {
		d, err := time.ParseDuration(*c.ReconnectDelay)
		if err != nil {
			return fmt.Errorf("invalid reconnect_delay '%s': %w", *c.ReconnectDelay, err)
		}
		if d <= 0 {
			return fmt.Errorf("reconnect_delay must be positive, got %s", d)
		}
	}
	if c.RecordFormat != nil && *c.RecordFormat != FormatSQLite {
		if _, err := recorder.ParseFormat(*c.RecordFormat); err != nil {
			return err
		}
	}
	if c.ExportFormat != nil {
		if _, err := export.Encoder(export.Format(*c.ExportFormat)); err != nil {
			return err
		}
	}
	if c.ExportQueue != nil && *c.ExportQueue <= 0 {
		return fmt.Errorf("export_queue must be positive, got %d", *c.ExportQueue)
	}
	for name, p := range c.Filters {
		if p.Priority != nil && *p.Priority < 1 {
			return fmt.Errorf("filters.%s.priority must be at least 1, got %d", name, *p.Priority)
		}
	}
	return nil
}

// FormatSQLite selects the database recorder instead of a file layout.
const FormatSQLite = "sqlite"

// GetServerAddr returns the bridge address or the default.
func (c *Config) GetServerAddr() string {
	if c.ServerAddr == nil || *c.ServerAddr == "" {
		return DefaultServerAddr
	}
	return *c.ServerAddr
}

// GetUDPListenAddr returns the direct UDP address or the default.
func (c *Config) GetUDPListenAddr() string {
	if c.UDPListenAddr == nil || *c.UDPListenAddr == "" {
		return DefaultUDPListenAddr
	}
	return *c.UDPListenAddr
}

// GetReconnectDelay parses reconnect_delay.
func (c *Config) GetReconnectDelay() time.Duration {
	if c.ReconnectDelay == nil || *c.ReconnectDelay == "" {
		return DefaultReconnectDelay
	}
	d, err := time.ParseDuration(*c.ReconnectDelay)
	if err != nil || d <= 0 {
		return DefaultReconnectDelay
	}
	return d
}

// DecoderConfig builds the decoder configuration. Native defaults to 64
// subcarriers and the path lengths default to native.
func (c *Config) DecoderConfig() wire.Config {
	cfg := wire.Config{Variant: wire.VariantRSSI, NativeSubcarriers: 64}
	if c.Variant != nil {
		if v, err := wire.ParseVariant(*c.Variant); err == nil {
			cfg.Variant = v
		}
	}
	if c.NativeSubcarriers != nil {
		cfg.NativeSubcarriers = *c.NativeSubcarriers
	}
	if c.DisplaySubcarriers != nil {
		cfg.DisplayLength = *c.DisplaySubcarriers
	}
	if c.ExportSubcarriers != nil {
		cfg.ExportLength = *c.ExportSubcarriers
	}
	return cfg
}

// GetFilterDir returns the plugin directory or the default.
func (c *Config) GetFilterDir() string {
	if c.FilterDir == nil || *c.FilterDir == "" {
		return DefaultFilterDir
	}
	return *c.FilterDir
}

// GetRecordFormat returns the recording format name.
func (c *Config) GetRecordFormat() string {
	if c.RecordFormat == nil || *c.RecordFormat == "" {
		return string(recorder.FormatSimpleCSV)
	}
	return *c.RecordFormat
}

// GetRecordPath returns the recording path; empty means the working
// directory with a generated name.
func (c *Config) GetRecordPath() string {
	if c.RecordPath == nil {
		return ""
	}
	return *c.RecordPath
}

// GetMACFilterRecording reports whether recording consults the allow-list.
func (c *Config) GetMACFilterRecording() bool {
	return c.MACFilterRecording != nil && *c.MACFilterRecording
}

// GetMACFilterExport reports whether live export consults the allow-list.
func (c *Config) GetMACFilterExport() bool {
	return c.MACFilterExport != nil && *c.MACFilterExport
}

// GetMACAllowList returns the allow-list. An empty list admits everyone.
func (c *Config) GetMACAllowList() []string {
	if len(c.MACAllowList) == 0 {
		return []string{stream.NoFilter}
	}
	return c.MACAllowList
}

// GetExportFormat returns the live-export format.
func (c *Config) GetExportFormat() export.Format {
	if c.ExportFormat == nil || *c.ExportFormat == "" {
		return export.FormatCSV
	}
	return export.Format(*c.ExportFormat)
}

// GetExportQueue returns the export queue length.
func (c *Config) GetExportQueue() int {
	if c.ExportQueue == nil {
		return export.DefaultQueueSize
	}
	return *c.ExportQueue
}

// GetNATSSubject returns the NATS subject or the default.
func (c *Config) GetNATSSubject() string {
	if c.NATSSubject == nil || *c.NATSSubject == "" {
		return DefaultNATSSubject
	}
	return *c.NATSSubject
}

// GetHTTPListen returns the control API address or the default. An
// explicit empty string disables the API.
func (c *Config) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return DefaultHTTPListen
	}
	return *c.HTTPListen
}

// GetGRPCListen returns the gRPC health address; empty disables it.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

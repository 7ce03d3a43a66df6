// Package config loads the JSON settings shared by the receiver and
// transmitter commands. Every field is optional; the Get* methods supply the
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/magmon/internal/acquire"
	"github.com/banshee-data/magmon/internal/monitor"
	"github.com/banshee-data/magmon/internal/serialport"
	"github.com/banshee-data/magmon/internal/transmit"
)

// DefaultConfigPath is the canonical defaults file.
const DefaultConfigPath = "config/magmon.defaults.json"

const maxFileSize = 1 * 1024 * 1024

// PortConfig is the serial side of one end of the link.
type PortConfig struct {
	Path        *string `json:"path,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	DataBits    *int    `json:"data_bits,omitempty"`
	StopBits    *int    `json:"stop_bits,omitempty"`
	Parity      *string `json:"parity,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string like "100ms"
}

type Config struct {
	Receiver    *PortConfig `json:"receiver,omitempty"`
	Transmitter *PortConfig `json:"transmitter,omitempty"`

	// Acquisition
	SampleRate    *float64 `json:"sample_rate,omitempty"`
	BatchSize     *int     `json:"batch_size,omitempty"`
	QueueBatches  *int     `json:"queue_batches,omitempty"`
	MaxSamples    *int     `json:"max_samples,omitempty"`
	BreakDuration *string  `json:"break_duration,omitempty"`
	LinePoll      *string  `json:"line_poll,omitempty"`

	// Outputs
	DataLog  *string  `json:"data_log,omitempty"`
	Database *string  `json:"database,omitempty"`
	Listen   *string  `json:"listen,omitempty"`
	Window   *float64 `json:"window_seconds,omitempty"`

	// Transmitter
	Interval   *string `json:"interval,omitempty"`
	SampleFile *string `json:"sample_file,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// Load reads a Config from a .json file no larger than 1MB and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrEmpty loads path, or returns an empty Config when path is "".
func LoadOrEmpty(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	return Load(path)
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", name, *v)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.SampleRate != nil && !(*c.SampleRate > 0) {
		return fmt.Errorf("sample_rate must be positive, got %v", *c.SampleRate)
	}
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.QueueBatches != nil && *c.QueueBatches <= 0 {
		return fmt.Errorf("queue_batches must be positive, got %d", *c.QueueBatches)
	}
	if c.MaxSamples != nil && *c.MaxSamples < 0 {
		return fmt.Errorf("max_samples must not be negative, got %d", *c.MaxSamples)
	}
	if c.Window != nil && !(*c.Window > 0) {
		return fmt.Errorf("window_seconds must be positive, got %v", *c.Window)
	}
	for name, v := range map[string]*string{
		"break_duration": c.BreakDuration,
		"line_poll":      c.LinePoll,
		"interval":       c.Interval,
	} {
		if err := validDuration(name, v); err != nil {
			return err
		}
	}
	for name, p := range map[string]*PortConfig{"receiver": c.Receiver, "transmitter": c.Transmitter} {
		if p == nil {
			continue
		}
		if err := validDuration(name+".read_timeout", p.ReadTimeout); err != nil {
			return err
		}
		if _, err := p.Options("").Normalise(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// Options converts the port settings; defaultPath is used when no path is
// configured. Unset values are left for PortOptions.Normalise to fill.
func (p *PortConfig) Options(defaultPath string) serialport.PortOptions {
	opts := serialport.PortOptions{Path: defaultPath}
	if p == nil {
		return opts
	}
	if p.Path != nil && *p.Path != "" {
		opts.Path = *p.Path
	}
	if p.BaudRate != nil {
		opts.BaudRate = *p.BaudRate
	}
	if p.DataBits != nil {
		opts.DataBits = *p.DataBits
	}
	if p.StopBits != nil {
		opts.StopBits = *p.StopBits
	}
	if p.Parity != nil {
		opts.Parity = *p.Parity
	}
	opts.ReadTimeout = durationOr(p.ReadTimeout, 0)
	return opts
}

func (c *Config) ReceiverPort(defaultPath string) serialport.PortOptions {
	return c.Receiver.Options(defaultPath)
}

func (c *Config) TransmitterPort(defaultPath string) serialport.PortOptions {
	return c.Transmitter.Options(defaultPath)
}

func (c *Config) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return acquire.DefaultSampleRate
	}
	return *c.SampleRate
}

func (c *Config) GetBatchSize() int {
	if c.BatchSize == nil {
		return acquire.DefaultBatchSize
	}
	return *c.BatchSize
}

func (c *Config) GetQueueBatches() int {
	if c.QueueBatches == nil {
		return acquire.DefaultQueueBatches
	}
	return *c.QueueBatches
}

// GetMaxSamples returns the store limit; 0 means unbounded.
func (c *Config) GetMaxSamples() int {
	if c.MaxSamples == nil {
		return 0
	}
	return *c.MaxSamples
}

func (c *Config) GetBreakDuration() time.Duration {
	return durationOr(c.BreakDuration, acquire.DefaultBreakDuration)
}

func (c *Config) GetLinePoll() time.Duration {
	return durationOr(c.LinePoll, acquire.DefaultLinePoll)
}

// GetDataLog returns the data log path; "" disables the log.
func (c *Config) GetDataLog() string {
	if c.DataLog == nil {
		return ""
	}
	return *c.DataLog
}

func (c *Config) GetDatabase() string {
	if c.Database == nil {
		return "magmon.db"
	}
	return *c.Database
}

func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetWindow returns the strip chart length in seconds.
func (c *Config) GetWindow() float64 {
	if c.Window == nil {
		return monitor.DefaultWindow
	}
	return *c.Window
}

func (c *Config) GetInterval() time.Duration {
	return durationOr(c.Interval, transmit.DefaultInterval)
}

// GetSampleFile returns the transmitter sample file; "" means synthesize.
func (c *Config) GetSampleFile() string {
	if c.SampleFile == nil {
		return ""
	}
	return *c.SampleFile
}

// AcquireConfig builds the session configuration. The read timeout comes
// from the receiver port settings.
func (c *Config) AcquireConfig() acquire.Config {
	return acquire.Config{
		BatchSize:     c.GetBatchSize(),
		QueueCapacity: c.GetBatchSize() * c.GetQueueBatches(),
		SampleRate:    c.GetSampleRate(),
		MaxSamples:    c.GetMaxSamples(),
		BreakDuration: c.GetBreakDuration(),
		LinePoll:      c.GetLinePoll(),
		ReadTimeout:   durationOr(c.receiverTimeout(), acquire.DefaultReadTimeout),
	}
}

func (c *Config) receiverTimeout() *string {
	if c.Receiver == nil {
		return nil
	}
	return c.Receiver.ReadTimeout
}

// Package config loads and validates the OTA agent's configuration
// (spec §6.7): timing fields, retry counts, and transport toggles.
// Grounded on the teacher's YAML loading style (cmd/warren/apply.go
// unmarshals gopkg.in/yaml.v3 into a typed struct) and its cobra flag
// wiring (cmd/warren/main.go).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/ota-agent/pkg/otatypes"
	"gopkg.in/yaml.v3"
)

// timingBounds are the valid seconds range for every timing field,
// spec §6.7: "[5, 31_536_000]".
const (
	minTimingSeconds = 5
	maxTimingSeconds = 31_536_000
)

// JobFlow selects whether the agent fetches a job document first or
// downloads directly from known coordinates (spec §3, §6.7).
type JobFlow string

const (
	JobFlowJob    JobFlow = "JOB"
	JobFlowDirect JobFlow = "DIRECT"
)

// Config is the agent's full static configuration.
type Config struct {
	// Timing fields: time.Duration values, written as duration strings
	// ("30s", "1h") in YAML; Validate checks them in whole seconds.
	InitialCheckInterval time.Duration `yaml:"initial_check_interval"`
	NextCheckInterval    time.Duration `yaml:"next_check_interval"`
	RetryInterval        time.Duration `yaml:"retry_interval"`
	JobCheckTimeout      time.Duration `yaml:"job_check_timeout"`
	DataCheckTimeout     time.Duration `yaml:"data_check_timeout"`
	CheckWindow          time.Duration `yaml:"check_window"`
	PacketInterval       time.Duration `yaml:"packet_interval"`

	// Counts.
	Retries          int `yaml:"retries"`           // overall session retries
	ConnectRetries   int `yaml:"connect_retries"`
	MaxDownloadTries int `yaml:"max_download_tries"`

	// Transport toggles.
	JobFlow               JobFlow `yaml:"job_flow"`
	RebootUponCompletion  bool    `yaml:"reboot_upon_completion"`
	ValidateAfterReboot   bool    `yaml:"validate_after_reboot"`
	DoNotSendResult       bool    `yaml:"do_not_send_result"`

	// Board identity used by the Job Parser's board gate (spec §4.2).
	Board string `yaml:"board"`

	// Device identity fields threaded into every job-availability query
	// (spec §6.3).
	Manufacturer   string `yaml:"manufacturer"`
	ManufacturerID string `yaml:"manufacturer_id"`
	Product        string `yaml:"product"`
	SerialNumber   string `yaml:"serial_number"`

	// RunningVersion is compared against a job document's version by
	// the Job Parser's monotonic-version gate (spec §4.2).
	RunningVersion otatypes.Version `yaml:"running_version"`

	// Transport connection parameters (spec §4.4-§4.6).
	Connection otatypes.Connection `yaml:"connection"`
	Host       string              `yaml:"host"`
	Port       int                 `yaml:"port"`
	File       string              `yaml:"file"`

	// MQTT-specific (spec §4.5).
	ClientIDPrefix   string `yaml:"client_id_prefix"`
	CompanyPrepend   string `yaml:"company_prepend"`
	CleanSession     bool   `yaml:"clean_session"`
	KeepaliveSeconds int    `yaml:"keepalive_seconds"`
	GetAllDataOneCall bool  `yaml:"get_all_data_with_one_call"`
}

// Default returns a Config populated with the defaults named throughout
// spec §4 and §6.7 (retries default 3, job-flow default JOB).
func Default() Config {
	return Config{
		InitialCheckInterval: 10 * time.Second,
		NextCheckInterval:    24 * time.Hour,
		RetryInterval:        5 * time.Minute,
		JobCheckTimeout:      1 * time.Minute,
		DataCheckTimeout:     3 * time.Minute,
		CheckWindow:          1 * time.Hour,
		PacketInterval:       30 * time.Second,
		Retries:              3,
		ConnectRetries:       3,
		MaxDownloadTries:     3,
		JobFlow:              JobFlowJob,
		KeepaliveSeconds:     60,
		GetAllDataOneCall:    true,
	}
}

// Load reads a YAML config file and overlays it on Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate enforces the timing-field ranges and count sanity from spec
// §6.7.
func (c Config) Validate() error {
	timings := map[string]time.Duration{
		"initial_check_interval": c.InitialCheckInterval,
		"next_check_interval":    c.NextCheckInterval,
		"retry_interval":         c.RetryInterval,
		"job_check_timeout":      c.JobCheckTimeout,
		"data_check_timeout":     c.DataCheckTimeout,
		"check_window":           c.CheckWindow,
		"packet_interval":        c.PacketInterval,
	}

	for name, d := range timings {
		secs := int(d.Seconds())
		if secs < minTimingSeconds || secs > maxTimingSeconds {
			return fmt.Errorf("config: %s must be between %ds and %ds, got %ds",
				name, minTimingSeconds, maxTimingSeconds, secs)
		}
	}

	if c.Retries < 0 || c.ConnectRetries < 0 || c.MaxDownloadTries < 0 {
		return fmt.Errorf("config: retry counts must be non-negative")
	}

	switch c.JobFlow {
	case JobFlowJob, JobFlowDirect:
	default:
		return fmt.Errorf("config: job_flow must be JOB or DIRECT, got %q", c.JobFlow)
	}

	if c.Board == "" {
		return fmt.Errorf("config: board is required")
	}

	return nil
}

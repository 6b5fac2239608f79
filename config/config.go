// Package config loads and validates the service configuration. JSON is the
// canonical format; YAML documents are accepted and converted before
// validation, so both go through the same JSON Schema.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/simulator"
	"github.com/svjp05/seismic-web-server/transport/serial"
	"github.com/svjp05/seismic-web-server/transport/websocket"
)

// Config is the complete service configuration.
type Config struct {
	Version    string           `json:"version"`
	Service    ServiceConfig    `json:"service"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`
	NATS       NATSConfig       `json:"nats,omitempty"`
	Decoder    DecoderConfig    `json:"decoder,omitempty"`
	Transports TransportsConfig `json:"transports"`
	Simulator  SimulatorConfig  `json:"simulator,omitempty"`
}

// ServiceConfig defines service identity and logging.
type ServiceConfig struct {
	Name     string `json:"name"`
	LogLevel string `json:"log_level,omitempty"` // debug, info, warn, error
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port,omitempty"`
}

// NATSConfig configures the outbound telemetry publisher.
type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject,omitempty"`
	Token   string `json:"token,omitempty"`
}

// DecoderConfig tunes timestamp synthesis.
type DecoderConfig struct {
	// Step is the assumed inter-sample interval, e.g. "10ms". Empty means
	// the sensor's nominal rate.
	Step string `json:"step,omitempty"`
}

// StepDuration parses the configured step. Zero when unset.
func (d DecoderConfig) StepDuration() (time.Duration, error) {
	if d.Step == "" {
		return 0, nil
	}
	step, err := time.ParseDuration(d.Step)
	if err != nil {
		return 0, errors.WrapInvalid(err, "config", "StepDuration", "step parse")
	}
	if step <= 0 {
		return 0, errors.WrapInvalid(fmt.Errorf("step must be positive, got %v", step),
			"config", "StepDuration", "step validation")
	}
	return step, nil
}

// TransportsConfig lists the configured sensor endpoints.
type TransportsConfig struct {
	Serial    []SerialEndpoint    `json:"serial,omitempty"`
	Websocket []WebsocketEndpoint `json:"websocket,omitempty"`
}

// SerialEndpoint is one serial sensor line.
type SerialEndpoint struct {
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	Serial  serial.Config `json:"serial"`
}

// WebsocketEndpoint is one push gateway connection.
type WebsocketEndpoint struct {
	Name      string           `json:"name"`
	Enabled   bool             `json:"enabled"`
	Websocket websocket.Config `json:"websocket"`
}

// SimulatorConfig configures the synthetic traffic generator.
type SimulatorConfig struct {
	Enabled   bool             `json:"enabled"`
	Simulator simulator.Config `json:"simulator,omitempty"`
}

// Default returns a runnable baseline configuration: one simulated source,
// metrics on, NATS off.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Service: ServiceConfig{
			Name:     "seismicd",
			LogLevel: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		NATS: NATSConfig{
			Subject: "seismic.telemetry",
		},
		Simulator: SimulatorConfig{
			Enabled:   true,
			Simulator: simulator.DefaultConfig(),
		},
	}
}

// Load reads, converts, schema-validates, and semantically validates a config
// file. The extension selects the format: .json, or .yaml/.yml.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
	case ".yaml", ".yml":
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported config format %q", filepath.Ext(path)),
			"config", "Load", "format detection")
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "config unmarshal")
	}

	// Endpoint lists replace the defaults wholesale, so line-parameter
	// defaults are filled per endpoint.
	for i := range cfg.Transports.Serial {
		applySerialDefaults(&cfg.Transports.Serial[i].Serial)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySerialDefaults fills unset line parameters with the 115200 8N1
// defaults.
func applySerialDefaults(cfg *serial.Config) {
	def := serial.DefaultConfig()
	if cfg.BitRate == 0 {
		cfg.BitRate = def.BitRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = def.DataBits
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = def.StopBits
	}
	if cfg.Parity == "" {
		cfg.Parity = def.Parity
	}
	if cfg.FlowControl == "" {
		cfg.FlowControl = def.FlowControl
	}
}

// yamlToJSON converts a YAML document to JSON so one schema covers both
// formats.
func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "YAML parse")
	}

	out, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "YAML conversion")
	}
	return out, nil
}

// normalizeYAML rewrites map[any]any trees (as older YAML layers produce)
// into map[string]any so they survive json.Marshal.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}

// validateSchema runs the embedded JSON Schema over the raw document.
func validateSchema(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return errors.WrapInvalid(err, "config", "Load", "schema validation")
	}

	if !result.Valid() {
		msg := "config schema violations:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf("\n  - %s: %s", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(fmt.Errorf("%s", msg), "config", "Load", "schema validation")
	}
	return nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "service name is required")
	}

	switch c.Service.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: log level %q", errors.ErrInvalidConfig, c.Service.LogLevel),
			"config", "Validate", "log level validation")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"metrics port must be a valid TCP port when metrics are enabled")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"NATS URL required when NATS is enabled")
		}
		if c.NATS.Subject == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"NATS subject required when NATS is enabled")
		}
	}

	if _, err := c.Decoder.StepDuration(); err != nil {
		return err
	}

	names := make(map[string]bool)
	for i := range c.Transports.Serial {
		ep := &c.Transports.Serial[i]
		if ep.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"serial endpoint name is required")
		}
		if names[ep.Name] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate endpoint name %q", errors.ErrInvalidConfig, ep.Name),
				"config", "Validate", "endpoint name uniqueness")
		}
		names[ep.Name] = true
		if ep.Enabled {
			if err := ep.Serial.Validate(); err != nil {
				return err
			}
		}
	}
	for i := range c.Transports.Websocket {
		ep := &c.Transports.Websocket[i]
		if ep.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"websocket endpoint name is required")
		}
		if names[ep.Name] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate endpoint name %q", errors.ErrInvalidConfig, ep.Name),
				"config", "Validate", "endpoint name uniqueness")
		}
		names[ep.Name] = true
		if ep.Enabled {
			if err := ep.Websocket.Validate(); err != nil {
				return err
			}
		}
	}

	if c.Simulator.Enabled {
		if err := c.Simulator.Simulator.Validate(); err != nil {
			return err
		}
	}

	return nil
}

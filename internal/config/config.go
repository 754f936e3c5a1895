// Package config loads the controller's key=value configuration file:
// recognized keys are filled with defaults when absent, silently-correctable
// values are normalized with a deferred warning, and unrecoverable values
// abort startup with a ctlerr.Config error.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/logging"
)

// Protocol is the transport tag used by registration/aggregation/update.
type Protocol string

const (
	ProtocolHTTP Protocol = "HTTP"
	ProtocolMQTT Protocol = "MQTT"
)

// EndpointConfig is the {protocol,url,port,channel} tuple shared by the
// registration, aggregation and update wiring in the config table.
type EndpointConfig struct {
	Protocol Protocol
	URL      string
	Port     int
	Channel  string
}

// Config is the fully-resolved, defaulted and validated configuration.
type Config struct {
	LoggingStandard logging.Mode
	LoggingDebug    logging.Mode

	Registration EndpointConfig

	ModelDirectory string

	AggregationEnabled bool
	Aggregation        EndpointConfig

	// Update carries the optional update/command channel. Configured the
	// same way as Registration/Aggregation but via update.* keys, enabled
	// only when all four of update.protocol/url/port/channel are set.
	UpdateEnabled bool
	Update        EndpointConfig

	// Warnings accumulates deferred, non-fatal notices (defaults applied,
	// channel slashes normalized) surfaced by Load for the caller to log.
	Warnings []string
}

// defaults mirror the config key table exactly.
func defaults() Config {
	return Config{
		LoggingStandard: logging.ModeStdout,
		LoggingDebug:    logging.ModeNone,
		Registration: EndpointConfig{
			Protocol: ProtocolHTTP,
			URL:      "127.0.0.1",
			Port:     80,
			Channel:  "/registration",
		},
		ModelDirectory: "./models",
	}
}

// Load reads filename (key=value lines, '#' comments, blank lines
// ignored) and returns a defaulted, validated Config. An empty filename
// returns pure defaults.
func Load(filename string) (*Config, error) {
	cfg := defaults()

	var raw map[string]string
	if filename != "" {
		f, err := os.Open(filename)
		if err != nil {
			return nil, ctlerr.Wrap(ctlerr.Config, "failed to read config file", err)
		}
		defer f.Close()

		raw, err = parseKeyValue(f)
		if err != nil {
			return nil, err
		}
		if err := applyRaw(&cfg, raw); err != nil {
			return nil, err
		}
	}

	for _, key := range []string{"logging.standard", "logging.debug", "registration.protocol",
		"registration.url", "registration.port", "registration.channel", "model.directory"} {
		if _, ok := raw[key]; !ok {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s not set: using default", key))
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parseKeyValue(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, ctlerr.New(ctlerr.Config, fmt.Sprintf("line %d: missing '=' in %q", lineNo, line))
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, ctlerr.New(ctlerr.Config, fmt.Sprintf("line %d: empty key", lineNo))
		}
		out[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, ctlerr.Wrap(ctlerr.Config, "failed to scan config file", err)
	}
	return out, nil
}

func applyRaw(cfg *Config, raw map[string]string) error {
	if v, ok := raw["logging.standard"]; ok {
		cfg.LoggingStandard = logging.Mode(v)
	}
	if v, ok := raw["logging.debug"]; ok {
		cfg.LoggingDebug = logging.Mode(v)
	}

	if err := applyEndpoint(&cfg.Registration, raw, "registration", cfg); err != nil {
		return err
	}

	_, hasAggProto := raw["aggregation.protocol"]
	_, hasAggURL := raw["aggregation.url"]
	_, hasAggPort := raw["aggregation.port"]
	_, hasAggChan := raw["aggregation.channel"]
	aggAny := hasAggProto || hasAggURL || hasAggPort || hasAggChan
	aggAll := hasAggProto && hasAggURL && hasAggPort && hasAggChan
	if aggAny && !aggAll {
		return ctlerr.New(ctlerr.Config, "aggregation.protocol/url/port/channel must all be set together or none")
	}
	if aggAll {
		cfg.AggregationEnabled = true
		if err := applyEndpoint(&cfg.Aggregation, raw, "aggregation", cfg); err != nil {
			return err
		}
	}

	_, hasUpdProto := raw["update.protocol"]
	_, hasUpdURL := raw["update.url"]
	_, hasUpdPort := raw["update.port"]
	_, hasUpdChan := raw["update.channel"]
	updAny := hasUpdProto || hasUpdURL || hasUpdPort || hasUpdChan
	updAll := hasUpdProto && hasUpdURL && hasUpdPort && hasUpdChan
	if updAny && !updAll {
		return ctlerr.New(ctlerr.Config, "update.protocol/url/port/channel must all be set together or none")
	}
	if updAll {
		cfg.UpdateEnabled = true
		if err := applyEndpoint(&cfg.Update, raw, "update", cfg); err != nil {
			return err
		}
	}

	if v, ok := raw["model.directory"]; ok {
		cfg.ModelDirectory = v
	}

	return nil
}

// applyEndpoint reads prefix.{protocol,url,port,channel} into ec, applying
// defaults only for the registration prefix (aggregation/update have no
// defaults — they are either fully set or fully absent).
func applyEndpoint(ec *EndpointConfig, raw map[string]string, prefix string, cfg *Config) error {
	if v, ok := raw[prefix+".protocol"]; ok {
		p := Protocol(strings.ToUpper(v))
		if p != ProtocolHTTP && p != ProtocolMQTT {
			return ctlerr.Field(ctlerr.Config, prefix+".protocol", fmt.Sprintf("unknown protocol %q", v))
		}
		ec.Protocol = p
	}
	if v, ok := raw[prefix+".url"]; ok {
		ec.URL = v
	}
	if v, ok := raw[prefix+".port"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return ctlerr.Field(ctlerr.Config, prefix+".port", fmt.Sprintf("not an integer: %q", v))
		}
		ec.Port = port
	}
	if v, ok := raw[prefix+".channel"]; ok {
		ec.Channel = normalizeChannel(v, ec.Protocol, prefix, cfg)
	} else if prefix == "registration" {
		ec.Channel = normalizeChannel(ec.Channel, ec.Protocol, prefix, cfg)
	}
	return nil
}

// normalizeChannel applies the HTTP-leading-slash / MQTT-no-leading-slash
// correction, recording a warning rather than aborting.
func normalizeChannel(channel string, proto Protocol, prefix string, cfg *Config) string {
	switch proto {
	case ProtocolHTTP:
		if !strings.HasPrefix(channel, "/") {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s.channel %q missing leading '/': auto-prepended", prefix, channel))
			channel = "/" + channel
		}
	case ProtocolMQTT:
		if strings.HasPrefix(channel, "/") {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s.channel %q has leading '/': auto-stripped for MQTT", prefix, channel))
			channel = strings.TrimPrefix(channel, "/")
		}
	}
	return channel
}

func (c *Config) validate() error {
	if err := validateEndpoint(c.Registration, "registration"); err != nil {
		return err
	}
	if c.AggregationEnabled {
		if err := validateEndpoint(c.Aggregation, "aggregation"); err != nil {
			return err
		}
	}
	if c.UpdateEnabled {
		if err := validateEndpoint(c.Update, "update"); err != nil {
			return err
		}
	}

	if c.ModelDirectory == "" {
		return ctlerr.Field(ctlerr.Config, "model.directory", "must not be empty")
	}
	if err := ensureDirectory(c.ModelDirectory); err != nil {
		return ctlerr.Wrap(ctlerr.Config, "model.directory must exist or be creatable", err)
	}

	return nil
}

func validateEndpoint(ec EndpointConfig, prefix string) error {
	if ec.URL == "" {
		return ctlerr.Field(ctlerr.Config, prefix+".url", "must not be blank")
	}
	if ec.Port < 0 || ec.Port > 65535 {
		return ctlerr.Field(ctlerr.Config, prefix+".port", fmt.Sprintf("out of range [0,65535]: %d", ec.Port))
	}
	if ec.Channel == "" {
		return ctlerr.Field(ctlerr.Config, prefix+".channel", "must not be blank")
	}
	return nil
}

func ensureDirectory(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

// Package config handles YAML config file loading for the tagstream commands.
package config

import (
	"fmt"
	"time"
)

// Config represents a tagstream.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Stream   StreamConfig  `yaml:"stream"`
	Serve    ServeConfig   `yaml:"serve"`
	Journal  JournalConfig `yaml:"journal"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// StreamConfig holds capture node defaults.
type StreamConfig struct {
	SourceType  string `yaml:"source_type"`
	SourceIndex string `yaml:"source_index"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`

	Destination string `yaml:"destination"`
	Transport   string `yaml:"transport"`
	Channel     string `yaml:"channel"`

	// Transform is the transform pipeline as a JSON document.
	Transform string   `yaml:"transform"`
	Tagging   []string `yaml:"tagging"`
	ModelsDir string   `yaml:"models_dir"`

	Interval        Duration `yaml:"interval"`
	Warmup          Duration `yaml:"warmup"`
	DetectorTimeout Duration `yaml:"detector_timeout"`
	RetryDelay      Duration `yaml:"retry_delay"`
	MaxRetries      *int     `yaml:"max_retries,omitempty"`

	WireEncoding string `yaml:"wire_encoding"`
	JPEGQuality  int    `yaml:"jpeg_quality"`
}

// ServeConfig holds consumer node defaults.
type ServeConfig struct {
	Source    string `yaml:"source"`
	Transport string `yaml:"transport"`
	Channel   string `yaml:"channel"`

	Port     int `yaml:"port"`
	RingSize int `yaml:"ring_size"`

	ReceiveTimeout Duration `yaml:"receive_timeout"`
	ReconnectDelay Duration `yaml:"reconnect_delay"`

	Annotate    bool `yaml:"annotate"`
	JPEGQuality int  `yaml:"jpeg_quality"`
}

// JournalConfig holds detection journal defaults. An empty backend
// disables the journal.
type JournalConfig struct {
	Backend     string   `yaml:"backend"`
	Path        string   `yaml:"path"`
	Dataset     string   `yaml:"dataset"`
	Region      string   `yaml:"region"`
	Endpoint    string   `yaml:"endpoint"`
	S3PathStyle bool     `yaml:"s3_path_style"`
	FlushCount  int      `yaml:"flush_count"`
	FlushEvery  Duration `yaml:"flush_interval"`
}

// Enabled reports whether a journal backend is configured.
func (j JournalConfig) Enabled() bool {
	return j.Backend != ""
}

// NotifyConfig holds detection notification defaults. An empty type
// disables notifications.
type NotifyConfig struct {
	Type        string            `yaml:"type"`
	URL         string            `yaml:"url"`
	Channel     string            `yaml:"channel,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
	Retries     *int              `yaml:"retries,omitempty"`
	MinInterval Duration          `yaml:"min_interval,omitempty"`
}

// Validate checks enumerated values. Empty values are always accepted.
func (c *Config) Validate() error {
	switch c.Journal.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("journal.backend must be fs or s3, got %q", c.Journal.Backend)
	}
	if c.Journal.Enabled() && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required for backend %q", c.Journal.Backend)
	}
	switch c.Notify.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("notify.type must be webhook or redis, got %q", c.Notify.Type)
	}
	if c.Notify.Type != "" && c.Notify.URL == "" {
		return fmt.Errorf("notify.url is required for type %q", c.Notify.Type)
	}
	for name, t := range map[string]string{"stream.transport": c.Stream.Transport, "serve.transport": c.Serve.Transport} {
		switch t {
		case "", "tcp", "redis":
		default:
			return fmt.Errorf("%s must be tcp or redis, got %q", name, t)
		}
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio":      {"simulated", "microphone"},
	"feedback":   {"log", "mqtt", "speaker"},
	"classifier": {"threshold"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. References of the form ${VAR} and ${VAR:-fallback} are replaced
// with environment values before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv substitutes ${VAR} and ${VAR:-fallback} references in raw.
// Unset variables without a fallback expand to the empty string. A bare $ not
// followed by a brace is left untouched so that passwords containing $ survive.
func ExpandEnv(raw []byte) []byte {
	s := string(raw)
	var b strings.Builder
	b.Grow(len(s))
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[i:], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteString(lookupRef(s[i+2 : i+end]))
		s = s[i+end+1:]
	}
	return []byte(b.String())
}

func lookupRef(ref string) string {
	name, fallback, hasFallback := strings.Cut(ref, ":-")
	if v, ok := os.LookupEnv(name); ok && (v != "" || !hasFallback) {
		return v
	}
	return fallback
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Monitor
	m := cfg.Monitor
	if m.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("monitor.sample_interval %s must not be negative", m.SampleInterval))
	}
	if m.AcceptConfidence < 0 || m.AcceptConfidence >= 1 {
		errs = append(errs, fmt.Errorf("monitor.accept_confidence %.2f is out of range [0, 1)", m.AcceptConfidence))
	}
	if m.StrongEvery < 0 {
		errs = append(errs, fmt.Errorf("monitor.strong_every %d must not be negative", m.StrongEvery))
	}
	if m.WaveformDisplay > 0 && m.WaveformCapacity > 0 && m.WaveformDisplay > m.WaveformCapacity {
		errs = append(errs, fmt.Errorf("monitor.waveform_display %d exceeds waveform_capacity %d", m.WaveformDisplay, m.WaveformCapacity))
	}

	// Classifier
	c := cfg.Classifier
	if c.MinFrequency < 0 || c.MaxFrequency < 0 {
		errs = append(errs, errors.New("classifier frequencies must not be negative"))
	}
	if c.MaxFrequency > 0 && c.MinFrequency >= c.MaxFrequency {
		errs = append(errs, fmt.Errorf("classifier.min_frequency %.0f must be below max_frequency %.0f", c.MinFrequency, c.MaxFrequency))
	}
	validateProviderName("classifier", c.Name)

	// Response
	if cfg.Response.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("response.queue_size %d must not be negative", cfg.Response.QueueSize))
	}
	if cfg.Response.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("response.breaker.max_failures %d must not be negative", cfg.Response.Breaker.MaxFailures))
	}

	// Providers
	validateProviderName("audio", cfg.Providers.Audio.Name)
	sinksSeen := make(map[string]int, len(cfg.Providers.Feedback))
	for i, fb := range cfg.Providers.Feedback {
		prefix := fmt.Sprintf("providers.feedback[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := sinksSeen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.feedback[%d]", prefix, fb.Name, prev))
		}
		sinksSeen[fb.Name] = i
		if fb.Name == "mqtt" && !cfg.MQTT.Enabled() {
			errs = append(errs, fmt.Errorf("%s: sink %q requires mqtt.broker", prefix, fb.Name))
		}
		validateProviderName("feedback", fb.Name)
	}

	// Store
	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, file, postgres", cfg.Store.Backend))
	case cfg.Store.Backend == BackendFile && cfg.Store.Path == "":
		errs = append(errs, errors.New("store.path is required when backend is file"))
	case cfg.Store.Backend == BackendPostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when backend is postgres"))
	}
	if cfg.Store.Retention < 0 {
		errs = append(errs, fmt.Errorf("store.retention %d must not be negative", cfg.Store.Retention))
	}

	// Archive
	if ch := cfg.Archive.ClickHouse; ch != nil && ch.Addr == "" {
		errs = append(errs, errors.New("archive.clickhouse.addr is required"))
	}

	// MQTT
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d is invalid; valid values: 0, 1, 2", cfg.MQTT.QoS))
	}
	if cfg.MQTT.Notify && !cfg.MQTT.Enabled() {
		errs = append(errs, errors.New("mqtt.notify requires mqtt.broker"))
	}

	// Defaults
	if cfg.Defaults != nil {
		if err := cfg.Defaults.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("defaults: %w", err))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

package config

import (
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
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validSampleRates = []int{8000, 16000, 22050, 24000, 32000, 44100, 48000}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.RefineLLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	// Correction
	if cfg.Correction.Timeout < 0 {
		errs = append(errs, fmt.Errorf("correction.timeout %s must not be negative", cfg.Correction.Timeout))
	}
	if t := cfg.Correction.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("correction.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Correction.Offline && cfg.Providers.LLM.Name != "" {
		slog.Warn("correction.offline is set; providers.llm is used for transcript refinement only")
	}

	// Voice
	if cfg.Voice.SampleRate != 0 && !slices.Contains(validSampleRates, cfg.Voice.SampleRate) {
		errs = append(errs, fmt.Errorf("voice.sample_rate %d is not supported; valid values: %v", cfg.Voice.SampleRate, validSampleRates))
	}
	if cfg.Voice.Channels < 0 || cfg.Voice.Channels > 2 {
		errs = append(errs, fmt.Errorf("voice.channels %d must be 1 or 2", cfg.Voice.Channels))
	}
	for i, term := range cfg.Voice.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("voice.vocabulary[%d] is empty", i))
		}
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; dictation will be unavailable")
	}

	// Report
	if f := cfg.Report.DateFormat; f != "" && !strings.ContainsAny(f, "0126") {
		errs = append(errs, fmt.Errorf("report.date_format %q contains no date components", f))
	}

	// Images
	if cfg.Images.JPEGQuality != 0 && (cfg.Images.JPEGQuality < 1 || cfg.Images.JPEGQuality > 100) {
		errs = append(errs, fmt.Errorf("images.jpeg_quality %d is out of range [1, 100]", cfg.Images.JPEGQuality))
	}
	if cfg.Images.MaxDimension < 0 {
		errs = append(errs, fmt.Errorf("images.max_dimension %d must not be negative", cfg.Images.MaxDimension))
	}
	if cfg.Images.Timeout < 0 || cfg.Images.CacheTTL < 0 || cfg.Images.MaxBytes < 0 {
		errs = append(errs, errors.New("images.timeout, images.cache_ttl and images.max_bytes must not be negative"))
	}
	if root := cfg.Images.LocalRoot; root != "" {
		if fi, err := os.Stat(root); err != nil {
			errs = append(errs, fmt.Errorf("images.local_root: %w", err))
		} else if !fi.IsDir() {
			errs = append(errs, fmt.Errorf("images.local_root %q is not a directory", root))
		}
	}

	// Patients
	for i, path := range cfg.Patients.FixtureFiles {
		if strings.TrimSpace(path) == "" {
			errs = append(errs, fmt.Errorf("patients.fixture_files[%d] is empty", i))
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

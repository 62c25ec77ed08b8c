// Package config provides the configuration schema, loader, and provider
// registry for the angiography review service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Correction CorrectionConfig `yaml:"correction"`
	Voice      VoiceConfig      `yaml:"voice"`
	Report     ReportConfig     `yaml:"report"`
	Images     ImagesConfig     `yaml:"images"`
	Patients   PatientsConfig   `yaml:"patients"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the model backends. Each entry names a provider
// registered in the [Registry]; an empty name leaves the slot unconfigured.
type ProvidersConfig struct {
	// LLM serves correction calls. Without it corrections use the offline
	// rules adapter.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// RefineLLM cleans dictated transcripts. Defaults to LLM when empty.
	RefineLLM ProviderEntry `yaml:"refine_llm"`

	// STT enables dictation.
	STT ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// CorrectionConfig tunes the correction adapter.
type CorrectionConfig struct {
	// Timeout bounds one adapter call. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// Temperature is the sampling temperature of correction calls.
	// Default 0.2.
	Temperature *float64 `yaml:"temperature"`

	// Offline forces the rules adapter even when an LLM is configured.
	Offline bool `yaml:"offline"`
}

// VoiceConfig describes the dictation audio stream.
type VoiceConfig struct {
	// Language is a BCP-47 tag passed to the STT backend. Default "en-US".
	Language string `yaml:"language"`

	// SampleRate of the PCM the client sends, in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the PCM the client sends. Default 1.
	Channels int `yaml:"channels"`

	// Vocabulary replaces the built-in coronary vocabulary used for
	// keyword boosting and phonetic correction.
	Vocabulary []string `yaml:"vocabulary"`
}

// ReportConfig overrides the fixed report texts. Empty fields keep the
// built-in defaults.
type ReportConfig struct {
	Facility        string `yaml:"facility"`
	Title           string `yaml:"title"`
	ReportedBy      string `yaml:"reported_by"`
	ReviewedBy      string `yaml:"reviewed_by"`
	DefaultOperator string `yaml:"default_operator"`
	ContrastAgent   string `yaml:"contrast_agent"`

	// DateFormat is a Go time layout. Default "02/01/2006".
	DateFormat string `yaml:"date_format"`
}

// ImagesConfig tunes finding image resolution. Zero values keep the
// resolver defaults.
type ImagesConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxDimension int           `yaml:"max_dimension"`
	JPEGQuality  int           `yaml:"jpeg_quality"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	MaxBytes     int64         `yaml:"max_bytes"`

	// LocalRoot allows file references below this directory.
	LocalRoot string `yaml:"local_root"`
}

// PatientsConfig lists the records loaded at startup.
type PatientsConfig struct {
	FixtureFiles []string `yaml:"fixture_files"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service.name. Default "angioreview".
	ServiceName string `yaml:"service_name"`
}

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultCorrectionTimeout = 30 * time.Second
	DefaultTemperature       = 0.2
	DefaultLanguage          = "en-US"
	DefaultSampleRate        = 16000
	DefaultServiceName       = "angioreview"
)

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Correction.Timeout == 0 {
		c.Correction.Timeout = DefaultCorrectionTimeout
	}
	if c.Correction.Temperature == nil {
		t := DefaultTemperature
		c.Correction.Temperature = &t
	}
	if c.Providers.RefineLLM.Name == "" {
		c.Providers.RefineLLM = c.Providers.LLM
	}
	if c.Voice.Language == "" {
		c.Voice.Language = DefaultLanguage
	}
	if c.Voice.SampleRate == 0 {
		c.Voice.SampleRate = DefaultSampleRate
	}
	if c.Voice.Channels == 0 {
		c.Voice.Channels = 1
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

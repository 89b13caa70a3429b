// Package config provides the configuration schema and loader for the
// lesson runtime.
package config

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

// Config is the root configuration structure. It is typically loaded from
// a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Content ContentConfig `yaml:"content"`
	Audio   AudioConfig   `yaml:"audio"`
	Grader  GraderConfig  `yaml:"grader"`
	STT     STTConfig     `yaml:"stt"`
	Lesson  LessonConfig  `yaml:"lesson"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the address the Prometheus scrape endpoint listens
	// on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ContentConfig locates the content backend.
type ContentConfig struct {
	// PostgresDSN is the connection string for the content database.
	PostgresDSN string `yaml:"postgres_dsn"`

	// RealtimeURL is the websocket endpoint for server-pushed events.
	// Empty disables realtime updates.
	RealtimeURL string `yaml:"realtime_url"`
}

// AudioConfig configures playback and the asset cache.
type AudioConfig struct {
	// Voice names the preferred synthesis voice for asset lookup.
	Voice string `yaml:"voice"`

	// CachePath is the sqlite file backing the durable asset cache.
	// Empty keeps assets in memory only.
	CachePath string `yaml:"cache_path"`
}

// ProviderEntry is the common configuration block shared by provider
// types.
type ProviderEntry struct {
	// Name selects the backend implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key, if the backend needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`
}

// GraderConfig configures answer grading.
type GraderConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// TimeoutSeconds is the per-grader deadline. Zero uses the default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// STTConfig configures speech transcription.
type STTConfig struct {
	Provider ProviderEntry `yaml:"provider"`
}

// LessonConfig selects the lesson and holds local state paths.
type LessonConfig struct {
	Day      string `yaml:"day"`
	Lesson   string `yaml:"lesson"`
	Level    string `yaml:"level"`
	Language string `yaml:"language"`

	// StateDir is where per-lesson visibility state is kept.
	StateDir string `yaml:"state_dir"`
}

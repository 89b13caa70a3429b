package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a YAML config from path.
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Lesson.StateDir == "" {
		cfg.Lesson.StateDir = "lektio-state"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns
// a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", cfg.Server.LogLevel))
	}
	if cfg.Content.PostgresDSN == "" {
		errs = append(errs, errors.New("content.postgres_dsn: must not be empty"))
	}
	if cfg.Lesson.Day == "" {
		errs = append(errs, errors.New("lesson.day: must not be empty"))
	}
	if cfg.Lesson.Lesson == "" {
		errs = append(errs, errors.New("lesson.lesson: must not be empty"))
	}
	if cfg.Lesson.Language == "" {
		errs = append(errs, errors.New("lesson.language: must not be empty"))
	}
	if cfg.Grader.LLM.Name != "" && cfg.Grader.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("grader.llm.model: required when grader.llm.name is %q", cfg.Grader.LLM.Name))
	}
	if cfg.Grader.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("grader.timeout_seconds: must not be negative, got %d", cfg.Grader.TimeoutSeconds))
	}
	if cfg.STT.Provider.Name != "" {
		switch cfg.STT.Provider.Name {
		case "whisper":
			if cfg.STT.Provider.BaseURL == "" {
				errs = append(errs, errors.New("stt.provider.base_url: required for the whisper provider"))
			}
		case "openai":
			if cfg.STT.Provider.APIKey == "" {
				errs = append(errs, errors.New("stt.provider.api_key: required for the openai provider"))
			}
			if cfg.STT.Provider.Model == "" {
				errs = append(errs, errors.New("stt.provider.model: required for the openai provider"))
			}
		default:
			errs = append(errs, fmt.Errorf("stt.provider.name: unknown provider %q", cfg.STT.Provider.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}

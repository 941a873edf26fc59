// Package config loads service configuration from environment variables
// and an optional YAML file. Environment values win over the file; tag
// defaults fill the rest.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Security SecurityConfig `yaml:"security"`
	LLM      LLMConfig      `yaml:"llm"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"LOG_OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"LOG_FILE_PATH" default:"logs/app.log"`
}

// StorageConfig contains dataset storage settings.
type StorageConfig struct {
	DatasetsPath  string `yaml:"datasets_path" envconfig:"DATASETS_PATH" default:"storage/datasets"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" envconfig:"MAX_FILE_SIZE_MB" default:"25"`
}

// MaxFileBytes returns the upload size limit in bytes.
func (s StorageConfig) MaxFileBytes() int64 {
	return int64(s.MaxFileSizeMB) << 20
}

// AnalysisConfig contains analysis defaults and limits.
type AnalysisConfig struct {
	DefaultThresholds     []int `yaml:"default_thresholds" envconfig:"DEFAULT_THRESHOLDS" default:"10,20,50"`
	LargeDatasetThreshold int   `yaml:"large_dataset_threshold" envconfig:"LARGE_DATASET_THRESHOLD" default:"10000"`
}

// SecurityConfig contains the API key, CORS and rate-limit settings.
type SecurityConfig struct {
	APIKey         string   `yaml:"api_key" envconfig:"API_KEY"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	RateLimit      int      `yaml:"rate_limit" envconfig:"RATE_LIMIT" default:"60"`
}

// LLMConfig contains advisory-layer settings. The advisory layer never
// affects numeric results; disabling it only changes artifact content.
type LLMConfig struct {
	Enabled         bool          `yaml:"use_llm" envconfig:"USE_LLM" default:"true"`
	Provider        string        `yaml:"provider" envconfig:"LLM_PROVIDER" default:"anthropic"`
	Model           string        `yaml:"model" envconfig:"LLM_MODEL"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key" envconfig:"ANTHROPIC_API_KEY"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"LLM_TIMEOUT" default:"30s"`
	CallBudget      int           `yaml:"call_budget" envconfig:"LLM_CALL_BUDGET" default:"10"`
}

// Load resolves configuration: env variables and tag defaults first, then
// the optional config file fills fields the environment did not set
// explicitly, then validation.
func Load() (*Config, error) {
	var cfg Config
	if err := processEnv(&cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if path := configFilePath(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
			// Booleans cannot distinguish "false" from "absent" after a plain
			// struct decode; re-read the flag as a pointer.
			var flags struct {
				LLM struct {
					UseLLM *bool `yaml:"use_llm"`
				} `yaml:"llm"`
			}
			if err := yaml.Unmarshal(data, &flags); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
			mergeFileConfig(&cfg, &fileCfg, flags.LLM.UseLLM)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// processEnv decodes each section against the environment separately.
// envconfig prefixes nested struct fields with the parent field's name,
// so decoding the sections directly is what lets the documented bare
// names (DATASETS_PATH, USE_LLM, API_KEY, ...) bind.
func processEnv(cfg *Config) error {
	for _, section := range []interface{}{
		&cfg.Server,
		&cfg.Logging,
		&cfg.Storage,
		&cfg.Analysis,
		&cfg.Security,
		&cfg.LLM,
	} {
		if err := envconfig.Process("", section); err != nil {
			return err
		}
	}
	return nil
}

// mergeFileConfig copies file values into cfg for fields whose env var is
// absent, so precedence stays env > file > tag default. fileUseLLM is the
// file's use_llm key as decoded through a pointer, nil when absent.
func mergeFileConfig(cfg, file *Config, fileUseLLM *bool) {
	envSet := func(name string) bool {
		_, ok := os.LookupEnv(name)
		return ok
	}

	if !envSet("PORT") && file.Server.Port != 0 {
		cfg.Server.Port = file.Server.Port
	}
	if !envSet("READ_TIMEOUT") && file.Server.ReadTimeout != 0 {
		cfg.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if !envSet("WRITE_TIMEOUT") && file.Server.WriteTimeout != 0 {
		cfg.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if !envSet("IDLE_TIMEOUT") && file.Server.IdleTimeout != 0 {
		cfg.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if !envSet("SHUTDOWN_TIMEOUT") && file.Server.ShutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}

	if !envSet("LOG_LEVEL") && file.Logging.Level != "" {
		cfg.Logging.Level = file.Logging.Level
	}
	if !envSet("LOG_OUTPUT") && file.Logging.Output != "" {
		cfg.Logging.Output = file.Logging.Output
	}
	if !envSet("LOG_FILE_PATH") && file.Logging.FilePath != "" {
		cfg.Logging.FilePath = file.Logging.FilePath
	}

	if !envSet("DATASETS_PATH") && file.Storage.DatasetsPath != "" {
		cfg.Storage.DatasetsPath = file.Storage.DatasetsPath
	}
	if !envSet("MAX_FILE_SIZE_MB") && file.Storage.MaxFileSizeMB != 0 {
		cfg.Storage.MaxFileSizeMB = file.Storage.MaxFileSizeMB
	}

	if !envSet("DEFAULT_THRESHOLDS") && len(file.Analysis.DefaultThresholds) > 0 {
		cfg.Analysis.DefaultThresholds = file.Analysis.DefaultThresholds
	}
	if !envSet("LARGE_DATASET_THRESHOLD") && file.Analysis.LargeDatasetThreshold != 0 {
		cfg.Analysis.LargeDatasetThreshold = file.Analysis.LargeDatasetThreshold
	}

	if !envSet("API_KEY") && file.Security.APIKey != "" {
		cfg.Security.APIKey = file.Security.APIKey
	}
	if !envSet("ALLOWED_ORIGINS") && len(file.Security.AllowedOrigins) > 0 {
		cfg.Security.AllowedOrigins = file.Security.AllowedOrigins
	}
	if !envSet("RATE_LIMIT") && file.Security.RateLimit != 0 {
		cfg.Security.RateLimit = file.Security.RateLimit
	}

	if !envSet("USE_LLM") && fileUseLLM != nil {
		cfg.LLM.Enabled = *fileUseLLM
	}
	if !envSet("LLM_PROVIDER") && file.LLM.Provider != "" {
		cfg.LLM.Provider = file.LLM.Provider
	}
	if !envSet("LLM_MODEL") && file.LLM.Model != "" {
		cfg.LLM.Model = file.LLM.Model
	}
	if !envSet("ANTHROPIC_API_KEY") && file.LLM.AnthropicAPIKey != "" {
		cfg.LLM.AnthropicAPIKey = file.LLM.AnthropicAPIKey
	}
	if !envSet("LLM_TIMEOUT") && file.LLM.Timeout != 0 {
		cfg.LLM.Timeout = file.LLM.Timeout
	}
	if !envSet("LLM_CALL_BUDGET") && file.LLM.CallBudget != 0 {
		cfg.LLM.CallBudget = file.LLM.CallBudget
	}
}

func configFilePath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Storage.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive")
	}
	for _, t := range c.Analysis.DefaultThresholds {
		if t < 1 || t > 100 {
			return fmt.Errorf("default threshold %d out of range [1,100]", t)
		}
	}
	if c.Security.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	return nil
}

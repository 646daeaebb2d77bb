package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the wizard configuration
type Config struct {
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Search  SearchConfig  `yaml:"search"`
	Chunk   ChunkConfig   `yaml:"chunk"`
	Session SessionConfig `yaml:"session"`
	Ingest  IngestConfig  `yaml:"ingest"`
}

// OpenAIConfig configures the embedding and chat completion provider.
type OpenAIConfig struct {
	APIKeyEnv      string `yaml:"api_key_env"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
	EmbedRPM       int    `yaml:"embed_rpm"`
	ChatRPM        int    `yaml:"chat_rpm"`
}

// SearchConfig holds retrieval defaults.
type SearchConfig struct {
	MaxResults          int     `yaml:"max_results"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinVectorResults    int     `yaml:"min_vector_results"`
	MultiVideoBoost     bool    `yaml:"multi_video_boost"`
	ConfidenceWeighting bool    `yaml:"confidence_weighting"`
}

// ChunkConfig holds transcript chunking parameters.
type ChunkConfig struct {
	TargetChars  int `yaml:"target_chars"`
	OverlapChars int `yaml:"overlap_chars"`
}

// SessionConfig holds chat session lifecycle parameters.
type SessionConfig struct {
	MaxHistory     int           `yaml:"max_history"`
	Timeout        time.Duration `yaml:"timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	DailyQuestions int           `yaml:"daily_questions"`
}

// IngestConfig configures the transcript ingestion pipeline.
type IngestConfig struct {
	WatchDir     string        `yaml:"watch_dir"`
	BatchWorkers int           `yaml:"batch_workers"`
	BatchDelay   time.Duration `yaml:"batch_delay"`
	EmbedRetries int           `yaml:"embed_retries"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			APIKeyEnv:      "OPENAI_API_KEY",
			EmbeddingModel: "text-embedding-3-small",
			ChatModel:      "gpt-4o-mini",
		},
		Search: SearchConfig{
			MaxResults:          20,
			SimilarityThreshold: 0.7,
			MinVectorResults:    3,
			MultiVideoBoost:     true,
			ConfidenceWeighting: true,
		},
		Chunk: ChunkConfig{
			TargetChars:  2000,
			OverlapChars: 400,
		},
		Session: SessionConfig{
			MaxHistory:     50,
			Timeout:        time.Hour,
			SweepInterval:  5 * time.Minute,
			DailyQuestions: 25,
		},
		Ingest: IngestConfig{
			BatchWorkers: 5,
			BatchDelay:   3 * time.Second,
			EmbedRetries: 3,
		},
	}
}

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("WIZARD_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "wizard"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("WIZARD_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Wizard"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "wizard"), nil
	}

	return filepath.Join(home, ".local", "share", "wizard"), nil
}

// Load loads config from the config file. A missing file is not an
// error: defaults are returned so a fresh install works without setup.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

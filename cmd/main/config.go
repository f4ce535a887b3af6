package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CTAG07/Babble/pkg/markov"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "./config.json"

// ServerConfig holds the configuration for the API server and the corpus database.
type ServerConfig struct {
	ApiAddr          string `json:"api_addr" yaml:"api_addr"`
	LogLevel         string `json:"log_level" yaml:"log_level"`
	DatabasePath     string `json:"database_path" yaml:"database_path"`
	ModelCacheSize   int    `json:"model_cache_size" yaml:"model_cache_size"`
	MaxTokens        int    `json:"max_tokens" yaml:"max_tokens"`
	RequestTimeoutMs int    `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	MaxUploadBytes   int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// GeneratorConfig holds the model and sampling defaults used when a command
// or request does not set them.
type GeneratorConfig struct {
	Order                   int     `json:"order" yaml:"order"`
	CapitalizationThreshold float64 `json:"capitalization_threshold" yaml:"capitalization_threshold"`
	MinFrequency            int     `json:"min_frequency" yaml:"min_frequency"`
	MinWordCount            int     `json:"min_word_count" yaml:"min_word_count"`
	Temperature             float64 `json:"temperature" yaml:"temperature"`
	TopK                    int     `json:"top_k" yaml:"top_k"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig    `json:"server_config" yaml:"server_config"`
	Generator *GeneratorConfig `json:"generator_config" yaml:"generator_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:          ":7328",
		LogLevel:         "info",
		DatabasePath:     "./data/babble.db",
		ModelCacheSize:   16,
		MaxTokens:        1000,
		RequestTimeoutMs: 5000,
		MaxUploadBytes:   32 << 20,
	}
}

// DefaultGeneratorConfig creates a generator configuration with default values.
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		Order:                   markov.DefaultOrder,
		CapitalizationThreshold: markov.DefaultCapitalizationThreshold,
		MinFrequency:            1,
		MinWordCount:            20,
		Temperature:             1.0,
		TopK:                    0,
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Generator: DefaultGeneratorConfig(),
	}
}

// Validate rejects settings the generator or the server cannot run with.
func (c *Config) Validate() error {
	if c.Server == nil || c.Generator == nil {
		return fmt.Errorf("%w: server_config and generator_config are required", markov.ErrInvalidConfiguration)
	}

	g := c.Generator
	switch {
	case g.Order < 1:
		return fmt.Errorf("%w: order must be at least 1, got %d", markov.ErrInvalidConfiguration, g.Order)
	case !(g.CapitalizationThreshold > 0 && g.CapitalizationThreshold < 1):
		return fmt.Errorf("%w: capitalization_threshold must be in (0, 1), got %g", markov.ErrInvalidConfiguration, g.CapitalizationThreshold)
	case g.MinFrequency < 1:
		return fmt.Errorf("%w: min_frequency must be at least 1, got %d", markov.ErrInvalidConfiguration, g.MinFrequency)
	case g.MinWordCount < 1 || g.MinWordCount < g.Order:
		return fmt.Errorf("%w: min_word_count must be at least max(1, order), got %d", markov.ErrInvalidConfiguration, g.MinWordCount)
	case g.TopK < 0:
		return fmt.Errorf("%w: top_k must not be negative, got %d", markov.ErrInvalidConfiguration, g.TopK)
	}

	s := c.Server
	switch {
	case s.ModelCacheSize < 1:
		return fmt.Errorf("%w: model_cache_size must be at least 1, got %d", markov.ErrInvalidConfiguration, s.ModelCacheSize)
	case s.MaxTokens < 0 || (s.MaxTokens > 0 && s.MaxTokens < g.MinWordCount):
		return fmt.Errorf("%w: max_tokens must be 0 or at least min_word_count, got %d", markov.ErrInvalidConfiguration, s.MaxTokens)
	case s.RequestTimeoutMs < 0:
		return fmt.Errorf("%w: request_timeout_ms must not be negative, got %d", markov.ErrInvalidConfiguration, s.RequestTimeoutMs)
	case s.MaxUploadBytes < 1:
		return fmt.Errorf("%w: max_upload_bytes must be positive, got %d", markov.ErrInvalidConfiguration, s.MaxUploadBytes)
	}
	return nil
}

// ModelOptions returns the construction options the generator section describes.
func (g *GeneratorConfig) ModelOptions() []markov.ModelOption {
	return []markov.ModelOption{
		markov.WithOrder(g.Order),
		markov.WithCapitalizationThreshold(g.CapitalizationThreshold),
		markov.WithMinFrequency(g.MinFrequency),
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path, chosen by extension. Sections or fields missing from the file keep
// their defaults. A missing file yields the defaults; os.IsNotExist on the
// second result tells the caller it was not found.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, err
		}
		// For other errors (e.g., permission denied), return the error.
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(file, config)
	} else {
		err = json.Unmarshal(file, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the configuration atomically in the format its extension names.
func SaveConfig(path string, config *Config) error {
	data, err := marshalConfig(path, config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// loadConfigOrDefaults is LoadConfig for commands that only read the
// configuration: a missing file is not an error.
func loadConfigOrDefaults(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return config, nil
}

// ConfigManager handles thread-safe access to the configuration of a running server.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
}

// NewConfigManager loads the config and initializes the manager. If the
// file doesn't exist, it is created with the default values.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err = SaveConfig(path, cfg); err != nil {
			// The server can still run with defaults.
			fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
		}
	}

	return &ConfigManager{
		config:     cfg,
		configPath: path,
	}, nil
}

// Get returns a thread-safe copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	server := *cm.config.Server
	generator := *cm.config.Generator
	return Config{Server: &server, Generator: &generator}
}

// Update validates the configuration, saves it to disk, and makes it current.
// Listen address, log level and database changes apply after a restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := SaveConfig(cm.configPath, &newConfig); err != nil {
		return err
	}
	cm.config = &newConfig
	return nil
}

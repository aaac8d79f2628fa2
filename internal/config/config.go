// Package config provides YAML-based configuration for the server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Processing ProcessingConfig `yaml:"processing"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port                 int    `yaml:"port"`
	BindAddress          string `yaml:"bind_address"`
	EnableCORS           bool   `yaml:"enable_cors"`
	AllowOrigins         string `yaml:"allow_origins"`
	ReadTimeout          int    `yaml:"read_timeout_seconds"`
	WriteTimeout         int    `yaml:"write_timeout_seconds"`
	IdleTimeout          int    `yaml:"idle_timeout_seconds"`
	BodyLimit            string `yaml:"body_limit"`
	EnableRequestLogging bool   `yaml:"enable_request_logging"`
}

// StorageConfig contains file and database storage settings.
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
	TempDirectory    string `yaml:"temp_directory"`
	DatabasePath     string `yaml:"database_path"`
}

// ProcessingConfig contains ingestion pipeline settings.
type ProcessingConfig struct {
	RecordBatchSize        int   `yaml:"record_batch_size"`
	SessionTimeoutMinutes  int   `yaml:"session_timeout_minutes"`
	CleanupIntervalMinutes int   `yaml:"cleanup_interval_minutes"`
	DownloadTimeoutSeconds int   `yaml:"download_timeout_seconds"`
	MaxArchiveBytes        int64 `yaml:"max_archive_bytes"`
	BackgroundWorkers      int   `yaml:"background_workers"`
}

// ExtractionConfig configures the external extraction engine.
type ExtractionConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	APIKeyEnv    string `yaml:"api_key_env"`
	MinTextChars int    `yaml:"min_text_chars"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	AllowFileDeletion bool   `yaml:"allow_file_deletion"`
	AllowedFileTypes  string `yaml:"allowed_file_types"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                 8090,
			BindAddress:          "0.0.0.0",
			EnableCORS:           true,
			AllowOrigins:         "*",
			ReadTimeout:          30,
			WriteTimeout:         60,
			IdleTimeout:          120,
			BodyLimit:            "512M",
			EnableRequestLogging: true,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			TempDirectory:    "./data/temp",
			DatabasePath:     "./data/vitalstream.duckdb",
		},
		Processing: ProcessingConfig{
			RecordBatchSize:        50000,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			DownloadTimeoutSeconds: 60,
			MaxArchiveBytes:        2 << 30,
			BackgroundWorkers:      4,
		},
		Extraction: ExtractionConfig{
			Provider:     "openai",
			Model:        "gpt-4o",
			APIKeyEnv:    "VITALSTREAM_EXTRACTION_KEY",
			MinTextChars: 50,
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
			AllowedFileTypes:  ".pdf,.png,.jpg,.jpeg,.webp,.txt,.csv,.zip,.gz",
		},
	}
}

// LoadConfig loads configuration from a YAML file, creating the
// default file on first run.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		cfg.resolvePaths(filepath.Dir(configPath))
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.resolvePaths(filepath.Dir(configPath))

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# VitalStream server configuration\n# Auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, output...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}
}

func (c *Config) resolvePaths(configDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	c.Storage.DataDirectory = abs(c.Storage.DataDirectory)
	c.Storage.UploadsDirectory = abs(c.Storage.UploadsDirectory)
	c.Storage.TempDirectory = abs(c.Storage.TempDirectory)
	c.Storage.DatabasePath = abs(c.Storage.DatabasePath)
}

// GetDataDir returns the absolute data directory path.
func (c *Config) GetDataDir() string { return c.Storage.DataDirectory }

// GetUploadDir returns the absolute uploads directory path.
func (c *Config) GetUploadDir() string { return c.Storage.UploadsDirectory }

// GetTempDir returns the absolute temp directory path.
func (c *Config) GetTempDir() string { return c.Storage.TempDirectory }

// GetServerAddr returns the server bind address.
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// ExtractionAPIKey resolves the extraction engine API key from the
// configured environment variable.
func (c *Config) ExtractionAPIKey() string {
	return os.Getenv(c.Extraction.APIKeyEnv)
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.TempDirectory,
		filepath.Dir(c.Storage.DatabasePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

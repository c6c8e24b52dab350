package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved run configuration. It is built once at
// startup and never mutated afterwards; every component receives it (or the
// fields it needs) explicitly.
type Config struct {
	Source  SourceConfig `yaml:"source"`
	Export  ExportConfig `yaml:"export"`
	WorkDir string       `yaml:"workdir" env:"WORKDIR"`

	ForceRun  bool   `yaml:"-" env:"FORCE_RUN"`
	EventName string `yaml:"-" env:"GITHUB_EVENT_NAME"`
}

// SourceConfig identifies the remote database to fetch.
type SourceConfig struct {
	FolderID       string `yaml:"folder_id" env:"SRC_FOLDER_ID"`
	FileID         string `yaml:"file_id" env:"SRC_FILE_ID"`
	TargetFilename string `yaml:"target_filename" env:"TARGET_FILENAME"`
}

// ExportConfig holds CSV export settings.
type ExportConfig struct {
	Separator   string `yaml:"separator" env:"CSV_SEPARATOR"`
	ChunkSize   int    `yaml:"chunk_size" env:"SQLITE_CHUNKSIZE"`
	Compress    bool   `yaml:"compress" env:"CSV_COMPRESS"`
	CleanOutput bool   `yaml:"clean_output" env:"CLEAN_OUTPUT"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			FolderID:       "1TAi1PJ3eCWS__1OgbbMfIZ9rmnOXK--1",
			FileID:         "",
			TargetFilename: "data_raw.sqlite3",
		},
		Export: ExportConfig{
			Separator:   ";",
			ChunkSize:   250000,
			Compress:    false,
			CleanOutput: true,
		},
		WorkDir: ".",
	}
}

// Load resolves the configuration in order: defaults, optional YAML file,
// optional .env file, then process environment. Later sources win.
func Load(yamlPath string) (*Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// .env never overrides variables already present in the environment.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	// An explicitly empty workdir means the current directory.
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}

	return cfg, cfg.Validate()
}

// FindConfigFile searches for a config file in standard locations.
// Returns an empty path when none exists.
func FindConfigFile() string {
	searchPaths := []string{
		"csvmirror.yaml",
		"/etc/csvmirror/csvmirror.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "csvmirror", "csvmirror.yaml"),
		)
	}
	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate rejects configurations no run could use.
func (c *Config) Validate() error {
	if c.Source.FileID == "" && c.Source.FolderID == "" {
		return fmt.Errorf("no source configured: set SRC_FILE_ID or SRC_FOLDER_ID")
	}
	if c.Source.FileID == "" && c.Source.TargetFilename == "" {
		return fmt.Errorf("folder search requires TARGET_FILENAME")
	}
	if len([]rune(c.Export.Separator)) != 1 {
		return fmt.Errorf("CSV_SEPARATOR must be a single character, got %q", c.Export.Separator)
	}
	if c.Export.ChunkSize <= 0 {
		return fmt.Errorf("SQLITE_CHUNKSIZE must be positive, got %d", c.Export.ChunkSize)
	}
	return nil
}

// DownloadDir returns the transient staging directory for downloads.
func (c *Config) DownloadDir() string {
	return filepath.Join(c.WorkDir, "tmp_download")
}

// OutputDir returns the directory the CSV files and manifest are written to.
func (c *Config) OutputDir() string {
	return filepath.Join(c.WorkDir, "output")
}

// SeparatorRune returns the CSV separator as a rune.
func (c *Config) SeparatorRune() rune {
	return []rune(c.Export.Separator)[0]
}

// Package config loads marexport settings from a json5 file, an optional
// .local override next to it, and the environment.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"

	"dev/bravebird/mar-export/pkg/portal"
)

const (
	DefaultFile            = "marexport.json5"
	DefaultTargetURL       = "https://emar.vcaresystems.co.uk/#/app/reports/mar"
	DefaultCredentialsFile = "camascope login.txt"
	DefaultColumn          = "Location Name"
	DefaultChunkSize       = 50
	DefaultProgressFile    = "chunking_progress.json"
	DefaultMergedDir       = "Merged_Reports"
	DefaultTaskQueue       = "mar-export"
)

// Database selects the run history backend
type Database struct {
	Driver string `json:"driver"` // sqlite or mysql
	DSN    string `json:"dsn"`
}

// Temporal addresses the workflow service
type Temporal struct {
	Host      string `json:"host"`
	Namespace string `json:"namespace"`
	TaskQueue string `json:"task_queue"`
}

// Config holds everything a run needs
type Config struct {
	TargetURL       string `json:"target_url"`
	CredentialsFile string `json:"credentials_file"`
	NamesFile       string `json:"names_file"`
	Column          string `json:"column"`
	DownloadDir     string `json:"download_dir"`
	ScreenshotDir   string `json:"screenshot_dir"`
	ChromeBin       string `json:"chrome_bin"`
	Headless        bool   `json:"headless"`

	ChunkSize      int    `json:"chunk_size"`
	ProgressFile   string `json:"progress_file"`
	MergedDir      string `json:"merged_dir"`
	KeepSelections bool   `json:"keep_selections"` // do not clear the dropdown between chunks

	// Jaro-Winkler threshold for region lookup; 0 disables fuzzy matching
	FuzzyThreshold float64 `json:"fuzzy_threshold"`

	ChunkDelayMS     int    `json:"chunk_delay_ms"`
	DownloadTimeoutS int    `json:"download_timeout_s"`
	StepTimeoutS     int    `json:"step_timeout_s"`
	StatusAddr       string `json:"status_addr"`
	LogLevel         string `json:"log_level"`

	Database Database `json:"database"`
	Temporal Temporal `json:"temporal"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		TargetURL:        DefaultTargetURL,
		CredentialsFile:  DefaultCredentialsFile,
		Column:           DefaultColumn,
		ScreenshotDir:    "screenshots",
		ChunkSize:        DefaultChunkSize,
		ProgressFile:     DefaultProgressFile,
		MergedDir:        DefaultMergedDir,
		ChunkDelayMS:     2000,
		DownloadTimeoutS: 120,
		StepTimeoutS:     10,
		LogLevel:         "info",
		Database: Database{
			Driver: "sqlite",
			DSN:    "marexport.db",
		},
		Temporal: Temporal{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: DefaultTaskQueue,
		},
	}
}

// Load builds a config from defaults, the file at path, its .local sibling
// (path "marexport.json5" reads "marexport.local.json5"), then the
// environment. Missing files are not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		for _, p := range []string{path, localPath(path)} {
			if err := mergeFile(&cfg, p); err != nil {
				return cfg, err
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// mergeFile overlays the non-zero keys of the json5 file at path onto cfg
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var file Config
	if err := json5.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := mergo.Merge(cfg, file, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config %s: %w", path, err)
	}
	slog.Debug("Loaded config file", "path", path)
	return nil
}

// localPath is the per-machine override next to path
func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

func (c *Config) applyEnv() {
	c.TargetURL = getEnvOrDefault("MAREXPORT_TARGET_URL", c.TargetURL)
	c.CredentialsFile = getEnvOrDefault("MAREXPORT_CREDENTIALS", c.CredentialsFile)
	c.NamesFile = getEnvOrDefault("MAREXPORT_NAMES_FILE", c.NamesFile)
	c.DownloadDir = getEnvOrDefault("MAREXPORT_DOWNLOAD_DIR", c.DownloadDir)
	c.ChromeBin = getEnvOrDefault("CHROME_BIN", c.ChromeBin)
	c.ScreenshotDir = getEnvOrDefault("SCREENSHOT_DIR", c.ScreenshotDir)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.Temporal.Host = getEnvOrDefault("TEMPORAL_HOST", c.Temporal.Host)
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		c.Database = Database{Driver: "mysql", DSN: dsn}
	}
	if v := os.Getenv("MAREXPORT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChunkSize = n
		}
	}
}

// Validate rejects settings no run can work with
func (c Config) Validate() error {
	if strings.TrimSpace(c.TargetURL) == "" {
		return errors.New("target_url is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy_threshold must be between 0 and 1, got %v", c.FuzzyThreshold)
	}
	switch c.Database.Driver {
	case "", "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// ChunkDelay is the pause between chunks
func (c Config) ChunkDelay() time.Duration {
	return time.Duration(c.ChunkDelayMS) * time.Millisecond
}

// ReportTimeouts returns the report waits with the configured download limit
func (c Config) ReportTimeouts() portal.ReportTimeouts {
	t := portal.DefaultReportTimeouts()
	if c.DownloadTimeoutS > 0 {
		t.Download = time.Duration(c.DownloadTimeoutS) * time.Second
	}
	return t
}

// NavigatorOptions returns the sign-in waits with the configured step limit
func (c Config) NavigatorOptions() portal.NavigatorOptions {
	o := portal.DefaultNavigatorOptions()
	if c.StepTimeoutS > 0 {
		o.StepTimeout = time.Duration(c.StepTimeoutS) * time.Second
	}
	return o
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// LoadCredentials reads the username from the first line of path and the
// password from the second.
func LoadCredentials(path string) (portal.Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return portal.Credentials{}, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff")))
	}
	if err := sc.Err(); err != nil {
		return portal.Credentials{}, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return portal.Credentials{}, fmt.Errorf("credentials file %s must contain the username on line 1 and the password on line 2", path)
	}
	return portal.Credentials{Username: lines[0], Password: lines[1]}, nil
}

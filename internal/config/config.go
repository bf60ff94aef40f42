package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/dwaller/shelfsync/internal/constants"
)

// Config holds all application configuration
type Config struct {
	LibraryPath string // root of the source library (holds metadata.db)
	ServerURL   string // content server base URL
	Username    string
	Password    string
	StripHTML   bool   // strip HTML markup from synopses
	DownloadDir string // optional: pull destination-only files here
	LogLevel    string
	LogFormat   string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		LibraryPath: getEnv("SHELFSYNC_LIBRARY_PATH", ""),
		ServerURL:   getEnv("SHELFSYNC_SERVER_URL", constants.DefaultServerURL),
		Username:    getEnv("SHELFSYNC_USERNAME", ""),
		Password:    getEnv("SHELFSYNC_PASSWORD", ""),
		StripHTML:   getEnvBool("SHELFSYNC_STRIP_HTML", false),
		DownloadDir: getEnv("SHELFSYNC_DOWNLOAD_DIR", ""),
		LogLevel:    getEnv("LOG_LEVEL", constants.DefaultLogLevel),
		LogFormat:   getEnv("LOG_FORMAT", constants.DefaultLogFormat),
	}
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.LibraryPath == "" {
		errors = append(errors, "SHELFSYNC_LIBRARY_PATH cannot be empty")
	} else if info, err := os.Stat(c.LibraryPath); err != nil || !info.IsDir() {
		errors = append(errors, fmt.Sprintf("SHELFSYNC_LIBRARY_PATH is not a directory: %s", c.LibraryPath))
	}

	if c.ServerURL == "" {
		errors = append(errors, "SHELFSYNC_SERVER_URL cannot be empty")
	} else if u, err := url.Parse(c.ServerURL); err != nil || u.Host == "" {
		errors = append(errors, fmt.Sprintf("SHELFSYNC_SERVER_URL is not a valid URL: %s", c.ServerURL))
	}

	if c.Username == "" {
		errors = append(errors, "SHELFSYNC_USERNAME cannot be empty")
	}
	if c.Password == "" {
		errors = append(errors, "SHELFSYNC_PASSWORD cannot be empty")
	}

	if c.DownloadDir != "" {
		if info, err := os.Stat(c.DownloadDir); err != nil || !info.IsDir() {
			errors = append(errors, fmt.Sprintf("SHELFSYNC_DOWNLOAD_DIR is not a directory: %s", c.DownloadDir))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// SourceDBPath returns the path of the source catalog database file.
func (c *Config) SourceDBPath() string {
	return c.LibraryPath + string(os.PathSeparator) + constants.SourceDBName
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getEnvBool retrieves a boolean environment variable with a fallback default
func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

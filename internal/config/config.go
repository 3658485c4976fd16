package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
)

// Config holds all application configuration resolved from config.json,
// an optional .env file and the process environment.
type Config struct {
	GitHubToken       string
	GitHubOwner       string
	GitHubAPIURL      string
	StudentSecret     string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	EvaluationURL     string
	Environment       string
	DBPath            string
	LogLevel          string
	LogFormat         string
	APIAddr           string
	GitBinPath        string
	GitAuthorName     string
	GitAuthorEmail    string
	DeployTimeout     time.Duration
	NotifyMaxAttempts int
	PollInterval      time.Duration
	PruneSchedule     string
	RetentionDays     int
	ContainerImage    string
	ContainerName     string
	HostPort          int
	HomeDir           string
}

// jsonConfig is an intermediate struct for JSON unmarshalling.
// Pointer types for numerics distinguish "missing" (nil) from "zero".
type jsonConfig struct {
	GitHubToken       string `json:"github_token,omitempty" jsonschema:"description=Token used for the GitHub REST API and git pushes"`
	GitHubOwner       string `json:"github_owner,omitempty" jsonschema:"description=Account that owns the created repositories"`
	GitHubAPIURL      string `json:"github_api_url,omitempty"`
	StudentSecret     string `json:"student_secret,omitempty" jsonschema:"description=Shared secret expected on build requests"`
	OpenAIAPIKey      string `json:"openai_api_key,omitempty"`
	OpenAIBaseURL     string `json:"openai_base_url,omitempty"`
	OpenAIModel       string `json:"openai_model,omitempty"`
	EvaluationURL     string `json:"evaluation_url,omitempty"`
	Environment       string `json:"environment,omitempty" jsonschema:"enum=development,enum=production"`
	DBPath            string `json:"db_path,omitempty"`
	LogLevel          string `json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	LogFormat         string `json:"log_format,omitempty" jsonschema:"enum=text,enum=json"`
	APIAddr           string `json:"api_addr,omitempty"`
	GitBinPath        string `json:"git_bin_path,omitempty"`
	GitAuthorName     string `json:"git_author_name,omitempty"`
	GitAuthorEmail    string `json:"git_author_email,omitempty"`
	DeployTimeoutSec  *int   `json:"deploy_timeout_sec,omitempty"`
	NotifyMaxAttempts *int   `json:"notify_max_attempts,omitempty"`
	PollIntervalSec   *int   `json:"poll_interval_sec,omitempty"`
	PruneSchedule     string `json:"prune_schedule,omitempty" jsonschema:"description=5-field cron expression for record pruning"`
	RetentionDays     *int   `json:"retention_days,omitempty"`
	ContainerImage    string `json:"container_image,omitempty"`
	ContainerName     string `json:"container_name,omitempty"`
	HostPort          *int   `json:"host_port,omitempty"`
}

// userHomeDir is a package-level variable to allow overriding in tests.
var userHomeDir = os.UserHomeDir

// readFile is a package-level variable to allow overriding in tests.
var readFile = os.ReadFile

// lookupEnv is a package-level variable to allow overriding in tests.
var lookupEnv = os.LookupEnv

// loadDotEnv populates the environment from .env without overriding
// variables that are already set.
var loadDotEnv = func() error {
	return godotenv.Load()
}

// Load reads configuration from ~/.llmdeploy/config.json, .env and the
// environment, and returns a Config. A missing config file is not an error.
func Load() (*Config, error) {
	home, err := userHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	homeDir := filepath.Join(home, ".llmdeploy")
	configPath := filepath.Join(homeDir, "config.json")

	var jc jsonConfig
	data, err := readFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		standardJSON, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := json.Unmarshal(standardJSON, &jc); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := loadDotEnv(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnv(&jc); err != nil {
		return nil, err
	}

	cfg := &Config{
		GitHubToken:       jc.GitHubToken,
		GitHubOwner:       jc.GitHubOwner,
		GitHubAPIURL:      strings.TrimRight(stringDefault(jc.GitHubAPIURL, "https://api.github.com"), "/"),
		StudentSecret:     jc.StudentSecret,
		OpenAIAPIKey:      jc.OpenAIAPIKey,
		OpenAIBaseURL:     strings.TrimRight(stringDefault(jc.OpenAIBaseURL, "https://api.openai.com/v1"), "/"),
		OpenAIModel:       stringDefault(jc.OpenAIModel, "gpt-4o-mini"),
		EvaluationURL:     stringDefault(jc.EvaluationURL, "http://localhost:9000/evaluation"),
		Environment:       stringDefault(jc.Environment, "development"),
		DBPath:            stringDefault(jc.DBPath, filepath.Join(homeDir, "llmdeploy.db")),
		LogLevel:          stringDefault(jc.LogLevel, "info"),
		LogFormat:         stringDefault(jc.LogFormat, "text"),
		APIAddr:           stringDefault(jc.APIAddr, "0.0.0.0:7860"),
		GitBinPath:        stringDefault(jc.GitBinPath, "git"),
		GitAuthorName:     stringDefault(jc.GitAuthorName, "llmdeploy"),
		GitAuthorEmail:    stringDefault(jc.GitAuthorEmail, "llmdeploy@users.noreply.github.com"),
		DeployTimeout:     time.Duration(intPtrDefault(jc.DeployTimeoutSec, 300)) * time.Second,
		NotifyMaxAttempts: intPtrDefault(jc.NotifyMaxAttempts, 5),
		PollInterval:      time.Duration(intPtrDefault(jc.PollIntervalSec, 30)) * time.Second,
		PruneSchedule:     stringDefault(jc.PruneSchedule, "0 3 * * *"),
		RetentionDays:     intPtrDefault(jc.RetentionDays, 30),
		ContainerImage:    stringDefault(jc.ContainerImage, "llmdeploy:latest"),
		ContainerName:     stringDefault(jc.ContainerName, "llmdeploy"),
		HostPort:          intPtrDefault(jc.HostPort, 7860),
		HomeDir:           homeDir,
	}

	if cfg.NotifyMaxAttempts < 1 {
		return nil, fmt.Errorf("notify_max_attempts must be at least 1, got %d", cfg.NotifyMaxAttempts)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval_sec must be positive")
	}

	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func applyEnv(jc *jsonConfig) error {
	strVars := []struct {
		name string
		dst  *string
	}{
		{"GITHUB_TOKEN", &jc.GitHubToken},
		{"GITHUB_OWNER", &jc.GitHubOwner},
		{"STUDENT_SECRET", &jc.StudentSecret},
		{"OPENAI_API_KEY", &jc.OpenAIAPIKey},
		{"OPENAI_BASE_URL", &jc.OpenAIBaseURL},
		{"OPENAI_MODEL", &jc.OpenAIModel},
		{"EVALUATION_URL", &jc.EvaluationURL},
		{"DATABASE_URL", &jc.DBPath},
		{"ENVIRONMENT", &jc.Environment},
		{"LOG_LEVEL", &jc.LogLevel},
		{"LOG_FORMAT", &jc.LogFormat},
	}
	for _, v := range strVars {
		if val, ok := lookupEnv(v.name); ok && val != "" {
			*v.dst = val
		}
	}

	if port, ok := lookupEnv("PORT"); ok && port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		jc.APIAddr = "0.0.0.0:" + port
	}
	return nil
}

// Missing returns the names of required settings that are empty.
func (c *Config) Missing() []string {
	var missing []string
	if c.GitHubToken == "" {
		missing = append(missing, "GITHUB_TOKEN")
	}
	if c.StudentSecret == "" {
		missing = append(missing, "STUDENT_SECRET")
	}
	if c.GitHubOwner == "" {
		missing = append(missing, "GITHUB_OWNER")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	return missing
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Schema returns the JSON schema of config.json.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(&jsonConfig{})
	s.Title = "llmdeploy config"
	return json.MarshalIndent(s, "", "  ")
}

func stringDefault(val, def string) string {
	if val != "" {
		return val
	}
	return def
}

func intPtrDefault(val *int, def int) int {
	if val != nil {
		return *val
	}
	return def
}

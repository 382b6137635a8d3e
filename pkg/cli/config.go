package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/refiner/pkg/adapter"
	"github.com/m-mizutani/refiner/pkg/repository"
	"github.com/m-mizutani/refiner/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	configPath string

	// Repository
	historyPath string

	// Logging
	logLevel  string
	logOutput string

	// Adapters
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	geminiModel    string
}

// fileConfig is the optional YAML configuration file. Values are used only
// when neither a flag nor an environment variable sets them.
type fileConfig struct {
	HistoryPath    string `yaml:"history_path"`
	LogLevel       string `yaml:"log_level"`
	LogOutput      string `yaml:"log_output"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	GeminiProject  string `yaml:"gemini_project"`
	GeminiLocation string `yaml:"gemini_location"`
	GeminiModel    string `yaml:"gemini_model"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path to YAML config file (default: <user config dir>/refiner/config.yaml)",
			Sources:     cli.EnvVars("REFINER_CONFIG"),
			Destination: &cfg.configPath,
		},
		&cli.StringFlag{
			Name:        "history",
			Usage:       "Path to local history database (default: ~/.local/share/refiner/history.db)",
			Sources:     cli.EnvVars("REFINER_HISTORY"),
			Destination: &cfg.historyPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Sources:     cli.EnvVars("REFINER_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-output",
			Usage:       "Log destination: stderr, stdout or a file path",
			Sources:     cli.EnvVars("REFINER_LOG_OUTPUT"),
			Destination: &cfg.logOutput,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY", "API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI (used without API key)",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI (default: us-central1)",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Gemini model name (default: " + adapter.DefaultGenerativeModel + ")",
			Sources:     cli.EnvVars("REFINER_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "refiner", "config.yaml")
}

func defaultHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".local", "share", "refiner", "history.db"), nil
}

// loadFile fills values not set by flags or environment from the YAML file. A
// missing default file is not an error; a missing explicit file is.
func (cfg *config) loadFile() error {
	path := cfg.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cfg.historyPath, fc.HistoryPath)
	fill(&cfg.logLevel, fc.LogLevel)
	fill(&cfg.logOutput, fc.LogOutput)
	fill(&cfg.geminiAPIKey, fc.GeminiAPIKey)
	fill(&cfg.geminiProject, fc.GeminiProject)
	fill(&cfg.geminiLocation, fc.GeminiLocation)
	fill(&cfg.geminiModel, fc.GeminiModel)

	return nil
}

// setup loads the config file and attaches the configured logger to ctx. The
// returned function closes the log destination.
func (cfg *config) setup(ctx context.Context) (context.Context, func(), error) {
	if err := cfg.loadFile(); err != nil {
		return ctx, nil, err
	}

	logger, closeLog, err := logging.Open(cfg.logLevel, cfg.logOutput)
	if err != nil {
		return ctx, nil, err
	}
	logging.SetDefault(logger)

	cleanup := func() {
		if err := closeLog(); err != nil {
			slog.Default().Error("failed to close log output", "error", err)
		}
	}
	return logging.With(ctx, logger), cleanup, nil
}

// newRepository opens the local history database
func (cfg *config) newRepository() (repository.Repository, error) {
	path := cfg.historyPath
	if path == "" {
		p, err := defaultHistoryPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	repo, err := repository.NewKV(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiAPIKey == "" && cfg.geminiProject == "" {
		return nil, goerr.New("gemini-api-key or gemini-project is required")
	}

	opts := []adapter.GeminiOption{
		adapter.WithGenerativeModel(cfg.geminiModel),
	}
	if cfg.geminiAPIKey != "" {
		opts = append(opts, adapter.WithAPIKey(cfg.geminiAPIKey))
	} else {
		location := cfg.geminiLocation
		if location == "" {
			location = "us-central1"
		}
		opts = append(opts, adapter.WithVertexAI(cfg.geminiProject, location))
	}

	gemini, err := adapter.NewGemini(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return gemini, nil
}

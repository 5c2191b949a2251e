package app

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Expression     string            // snippet text
	ExpressionPath string            // file holding the snippet, when Expression is empty
	Inputs         map[string]string // snippet name -> raster path
	InputsDir      string            // every raster found here is bound by its file stem
	OutputDir      string

	MemoryBudget int64
	Overlap      int
	Monolithic   bool
	TileHeight   int
	// DiscardPartial drops the outputs of a failed or canceled run instead
	// of publishing the tiles written so far.
	DiscardPartial bool

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

var (
	inputNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	logFormats  = []string{"json", "text", "pretty"}
	logLevels   = []string{"debug", "info", "warn", "error"}
)

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	var errs []error
	if strings.TrimSpace(cfg.Expression) == "" && cfg.ExpressionPath == "" {
		errs = append(errs, errors.New("an expression or an expression file is required"))
	}
	if cfg.Expression != "" && cfg.ExpressionPath != "" {
		errs = append(errs, errors.New("expression and expression file are mutually exclusive"))
	}
	if len(cfg.Inputs) == 0 && cfg.InputsDir == "" {
		errs = append(errs, errors.New("at least one input is required"))
	}
	for name := range cfg.Inputs {
		if !inputNameRe.MatchString(name) {
			errs = append(errs, fmt.Errorf("input name %q must start with a letter and contain only letters, digits and underscores", name))
		}
	}
	if cfg.OutputDir == "" {
		errs = append(errs, errors.New("an output directory is required"))
	}
	if cfg.MemoryBudget < 0 {
		errs = append(errs, fmt.Errorf("memory budget must not be negative, got %d", cfg.MemoryBudget))
	}
	if cfg.Overlap < 0 {
		errs = append(errs, fmt.Errorf("overlap must not be negative, got %d", cfg.Overlap))
	}
	if cfg.TileHeight < 0 {
		errs = append(errs, fmt.Errorf("tile height must not be negative, got %d", cfg.TileHeight))
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if !slices.Contains(logFormats, cfg.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of %s", cfg.LogFormat, strings.Join(logFormats, ", ")))
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !slices.Contains(logLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of %s", cfg.LogLevel, strings.Join(logLevels, ", ")))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Exit codes.
const (
	ExitExecution     = 1
	ExitConfiguration = 2
	ExitCanceled      = 130
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// FromRunError maps an error returned by a run to the exit code reported
// to the shell.
func FromRunError(err error) *ExitError {
	var exitErr *ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return exitErr
	case errors.Is(err, calcerr.ErrCanceled):
		return &ExitError{Code: ExitCanceled, Message: err.Error()}
	case calcerr.IsConfiguration(err):
		return &ExitError{Code: ExitConfiguration, Message: err.Error()}
	}
	return &ExitError{Code: ExitExecution, Message: err.Error()}
}

// flagKeys maps viper keys, which are also the run file keys, to flags.
var flagKeys = map[string]string{
	"expression":       "expr",
	"expression_file":  "expr-file",
	"inputs_dir":       "inputs-dir",
	"output_dir":       "output-dir",
	"memory_budget":    "memory-budget",
	"overlap":          "overlap",
	"monolithic":       "monolithic",
	"tile_height":      "tile-height",
	"discard_partial":  "discard-partial",
	"log_format":       "log-format",
	"log_level":        "log-level",
	"healthcheck_port": "healthcheck-port",
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	var config *app.Config

	root := &cobra.Command{
		Use:   "blockcalc",
		Short: "Block-streaming raster algebra",
		Long: `blockcalc evaluates a raster algebra expression over aligned input rasters,
one horizontal strip at a time, and writes every array the expression
produces as an output raster.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	run := &cobra.Command{
		Use:   "run [flags] [EXPRESSION]",
		Short: "Evaluate an expression and write its outputs",
		Example: `  blockcalc run -i A=red.yaml -i B=nir.yaml -o out 'ndvi = (B - A) / (B + A)'
  blockcalc run --config run.yaml
  BLOCKCALC_MEMORY_BUDGET=64MB blockcalc run --inputs-dir scenes -o out --expr-file ndvi.calc`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd.Flags(), args)
			if err != nil {
				return err
			}
			config = cfg
			return nil
		},
	}
	registerFlags(run.Flags())
	root.AddCommand(run)

	root.SetArgs(args)
	root.SetOut(output)
	root.SetErr(output)
	if err := root.Execute(); err != nil {
		return nil, false, &ExitError{Code: ExitConfiguration, Message: err.Error()}
	}
	if config == nil {
		slog.Debug("No run requested, exiting.")
		return nil, true, nil
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML run file; flags and BLOCKCALC_* variables override its values.")
	fs.StringP("expr", "e", "", "Expression to evaluate. May also be given as the only argument.")
	fs.String("expr-file", "", "File holding the expression.")
	fs.StringArrayP("input", "i", nil, "Input raster as NAME=PATH. Repeatable.")
	fs.String("inputs-dir", "", "Directory whose rasters are bound by file name.")
	fs.StringP("output-dir", "o", "", "Directory the outputs are written to.")
	fs.String("memory-budget", "", "Bytes held per tile, e.g. 256MB. Empty selects the default.")
	fs.Int("overlap", 0, "Pixels read around every tile for neighbourhood operations.")
	fs.Bool("monolithic", false, "Process the whole grid as a single tile.")
	fs.Int("tile-height", 0, "Rows per tile. 0 derives it from the memory budget.")
	fs.Bool("discard-partial", false, "Drop the outputs of a failed or canceled run instead of keeping the tiles written so far.")
	fs.String("log-format", "text", "Log output format. Options: 'text', 'json' or 'pretty'.")
	fs.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.Int("healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
}

// buildConfig merges defaults, the run file, the environment and flags.
func buildConfig(fs *pflag.FlagSet, args []string) (*app.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BLOCKCALC")
	v.AutomaticEnv()
	for key, name := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, err
		}
	}

	var inputs map[string]string
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading run file: %w", err)
		}
		var err error
		if inputs, err = runFileInputs(path); err != nil {
			return nil, err
		}
		slog.Debug("Run file loaded.", "path", path)
	}

	flagInputs, _ := fs.GetStringArray("input")
	for _, spec := range flagInputs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid input %q: want NAME=PATH", spec)
		}
		if inputs == nil {
			inputs = make(map[string]string)
		}
		inputs[name] = path
	}

	expression := v.GetString("expression")
	if len(args) == 1 {
		expression = args[0]
	}

	return app.NewConfig(app.Config{
		Expression:      expression,
		ExpressionPath:  v.GetString("expression_file"),
		Inputs:          inputs,
		InputsDir:       v.GetString("inputs_dir"),
		OutputDir:       v.GetString("output_dir"),
		MemoryBudget:    int64(v.GetSizeInBytes("memory_budget")),
		Overlap:         v.GetInt("overlap"),
		Monolithic:      v.GetBool("monolithic"),
		TileHeight:      v.GetInt("tile_height"),
		DiscardPartial:  v.GetBool("discard_partial"),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		HealthcheckPort: v.GetInt("healthcheck_port"),
	})
}

// runFileInputs reads the inputs map of a run file. Viper folds keys to
// lower case, and input names are case sensitive.
func runFileInputs(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var file struct {
		Inputs map[string]string `yaml:"inputs"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("reading run file inputs: %w", err)
	}
	return file.Inputs, nil
}

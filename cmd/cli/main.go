package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/specialistvlad/blockcalc/internal/app"
	"github.com/specialistvlad/blockcalc/internal/cli"
)

// main is the entrypoint for the blockcalc application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// Interrupts cancel the run between tiles; outputs written so far are kept
	// unless --discard-partial is given.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The real main function handles errors and exit codes.
	if exitErr := cli.FromRunError(run(ctx, os.Stdout, os.Args[1:])); exitErr != nil {
		fmt.Fprintln(os.Stderr, exitErr.Message)
		stop()
		os.Exit(exitErr.Code)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	res, err := app.NewApp(outW, appConfig).Run(ctx)
	if res != nil {
		for name, location := range res.Outputs {
			fmt.Fprintf(outW, "%s\t%s\n", name, location)
		}
	}
	return err
}

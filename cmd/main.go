package main

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"testing"

	"github.com/joho/godotenv"
	"github.com/knowhubhq/knowledge-exchange/upload-client/cmd/cli"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
) // .import

const appMainExitCode = 1

var (
	appConfig appconfig.AppConfig
	logger    *slog.Logger
)

// NOTE: this large init file may be an antipattern.
// A main reason for it is to enable the cross cutting logging aspect.
// If another way is found to manage that this should be moved to main.
func init() {
	ctx := context.Background()

	buildInfo, _ := debug.ReadBuildInfo()
	logInfo := []any{"buildInfo.Main.Path", buildInfo.Main.Path}
	slog.With(logInfo...)
	// ------------------------------------------------------------------
	// parse and load cli flags
	// ------------------------------------------------------------------
	if !testing.Testing() {
		if err := cli.ParseFlags(); err != nil {
			slog.Error("error starting app, error parsing cli flags", "error", err)
			os.Exit(appMainExitCode)
		} // .if
	}

	if cli.Flags.AppConfigPath != "" {
		slog.Info("Loading environment from", "file", cli.Flags.AppConfigPath)
		if err := godotenv.Load(cli.Flags.AppConfigPath); err != nil {
			slog.Error("error loading local configuration", "error", err)
			os.Exit(appMainExitCode)
		} // .if
	}

	// ------------------------------------------------------------------
	// parse and load config from os exported
	// ------------------------------------------------------------------
	var err error
	appConfig, err = appconfig.ParseConfig(ctx)
	if err != nil {
		slog.Error("error starting app, error parsing app config", "error", err)
		os.Exit(appMainExitCode)
	} // .if

	// ------------------------------------------------------------------
	// configure app custom logging
	// ------------------------------------------------------------------
	logInfo = append(logInfo, "pkg", "main")
	logger = cli.AppLogger(appConfig).With(logInfo...)
	sloger.SetDefaultLogger(logger)
}

func main() {
	ctx := context.Background()

	if cli.Flags.ShowVersion {
		cli.PrintVersion()
		return
	} // .if

	logger.Info("starting app")

	if err := cli.Run(ctx, appConfig); err != nil {
		logger.Error("upload run failed", "error", err)
		os.Exit(appMainExitCode)
	} // .if
} // .main

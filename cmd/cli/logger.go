package cli

import (
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/appconfig"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
)

var (
	logger *slog.Logger
)

func init() {
	type Empty struct{}
	pkgParts := strings.Split(reflect.TypeOf(Empty{}).PkgPath(), "/")
	// add package name to app logger
	logger = sloger.With("pkg", pkgParts[len(pkgParts)-1])
}

// AppLogger, this is the custom application logger for uniformity
func AppLogger(appConfig appconfig.AppConfig) *slog.Logger {

	// Configure debug on if needed, otherwise should be off
	opts := &slog.HandlerOptions{
		AddSource: true,
	} // .opts

	if appConfig.LoggerDebugOn {
		opts.Level = slog.LevelDebug

	} // .if

	logger := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	appLogger := logger.With(
		slog.Group("app_info",
			slog.String("System", "KNOWHUB"),
			slog.String("Product", "KNOWLEDGE EXCHANGE"),
			slog.String("App", "UPLOAD CLIENT"),
			slog.String("Env", appConfig.Environment),
		)) // .appLogger

	return appLogger
} // .AppLogger

// Package logging builds the process logger from the infra settings.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"forllm/internal/domain"
)

// output is where logs go; tests may replace it.
var output io.Writer = os.Stderr

// New returns a logger writing to stderr. LogFormat "json" selects the
// production encoder, anything else the console encoder. An unknown level
// falls back to info.
func New(cfg domain.InfraConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		level = zapcore.InfoLevel
	}

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.LogFormat, "json") {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(output), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).Named("forllm")
}

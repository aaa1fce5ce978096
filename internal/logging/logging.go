// Package logging builds the service's structured zap logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudlens/cost-ingest-go/internal/shared/types"
)

// New builds a zap logger from config. Unknown levels fall back to info;
// unknown outputs fall back to stderr.
func New(cfg types.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var ws zapcore.WriteSyncer
	switch cfg.Output {
	case "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "", "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		ws = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

package logging

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the job logger: console output plus, when logFile is non-empty,
// an append-only file whose lines read `<timestamp> - <message ...>`.
// The file path is injected by the caller so tests can redirect it.
func New(logFile string) (*zap.Logger, func(), error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.ConsoleSeparator = " - "
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapcore.InfoLevel),
	}
	cleanup := func() {}

	if logFile != "" {
		expanded, err := homedir.Expand(logFile)
		if err != nil {
			return nil, nil, fmt.Errorf("expanding log file path %q: %w", logFile, err)
		}

		f, err := os.OpenFile(expanded, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", expanded, err)
		}

		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(f), zapcore.InfoLevel))
		cleanup = func() { _ = f.Close() }
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, func() {
		_ = logger.Sync()
		cleanup()
	}, nil
}

package main

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 10
	logMaxBackups = 5
	logMaxAgeDays = 30
)

// setupLogging installs the default logger: colored output on stdout and,
// unless disabled, a rotating plain text log file. The returned func flushes
// and closes the file.
func setupLogging(cfg *config.Config) (func(), error) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	if cfg.LogFile == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return func() {}, nil
	}

	if err := utils.EnsureParent(cfg.LogFile); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
	}
	stamper := utils.NewLogInterceptor(rotator)
	fileHandler := slog.NewTextHandler(stamper, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	return func() {
		stamper.Close()
		rotator.Close()
	}, nil
}

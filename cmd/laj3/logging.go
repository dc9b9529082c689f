package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/laj3/laj3/internal/utils"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// setupLogging installs the default logger: tint on w and, when logFile is
// set, a plain text copy in logFile. The returned closer flushes the file.
func setupLogging(w io.Writer, levelName, logFile string) (io.Closer, error) {
	level, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	termHandler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	})

	if logFile == "" {
		slog.SetDefault(slog.New(termHandler))
		return nil, nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: level,
		// the interceptor stamps each line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(termHandler, fileHandler)))
	return &logFileCloser{interceptor: interceptor, file: file}, nil
}

type logFileCloser struct {
	interceptor *utils.LogInterceptor
	file        *os.File
}

func (c *logFileCloser) Close() error {
	// back to stderr so late log calls do not hit a closed file
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{NoColor: true})))
	err := c.interceptor.Close()
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	return err
}

package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// splitWriter sends warnings and errors to errOut and everything else to out.
// Every event is also written to file when set.
type splitWriter struct {
	out    io.Writer
	errOut io.Writer
	file   io.Writer
}

func (w *splitWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *splitWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	console := w.out
	if level >= zerolog.WarnLevel && level != zerolog.NoLevel {
		console = w.errOut
	}
	if _, err := console.Write(p); err != nil {
		return 0, err
	}
	if w.file != nil {
		if _, err := w.file.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// LogOptions configures NewLogger.
type LogOptions struct {
	File   string
	Level  string
	Stdout io.Writer
	Stderr io.Writer
}

// NewLogger builds the agent logger. INFO and DEBUG go to stdout, WARN and above
// to stderr, and all levels to the log file. A log file that cannot be opened is
// reported as a warning and the logger falls back to the console.
// The returned close func releases the file.
func NewLogger(opts LogOptions) (zerolog.Logger, func() error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	w := &splitWriter{
		out:    zerolog.ConsoleWriter{Out: opts.Stdout, NoColor: true, TimeFormat: time.DateTime},
		errOut: zerolog.ConsoleWriter{Out: opts.Stderr, NoColor: true, TimeFormat: time.DateTime},
	}

	closeFn := func() error { return nil }
	var fileErr error
	if opts.File != "" {
		f, err := openLogFile(opts.File)
		if err != nil {
			fileErr = err
		} else {
			w.file = f
			closeFn = f.Close
		}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if fileErr != nil {
		logger.Warn().Err(fileErr).Str("path", opts.File).Msg("cannot open log file, logging to console only")
	}
	return logger, closeFn
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

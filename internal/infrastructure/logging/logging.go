package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	// Level is debug, info, warn or error. Anything else means info.
	Level string
	// File enables a rotating log file in addition to stdout when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Init installs the process-wide slog default. Output always goes to
// stdout; a rotating file sink is added when cfg.File is set. The stdlib
// log package is redirected through the same handler so third-party code
// using it lands in the same stream.
func Init(cfg Config) (*RotatingWriter, error) {
	var (
		sink     io.Writer = os.Stdout
		rotating *RotatingWriter
	)
	if strings.TrimSpace(cfg.File) != "" {
		writer, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
		if err != nil {
			return nil, err
		}
		rotating = writer
		sink = io.MultiWriter(os.Stdout, writer)
	}

	level := ParseLevel(cfg.Level)
	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	log.SetFlags(0)
	log.SetOutput(slog.NewLogLogger(handler, level).Writer())

	return rotating, nil
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

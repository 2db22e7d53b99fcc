package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var output atomic.Pointer[io.Writer]

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	output.Store(&w)
	zerolog.SetGlobalLevel(ParseLogLevel(os.Getenv("VESSEL_LOG_LEVEL")))
}

// ConfigureLogging sets the process-wide level and output format. format
// is "json" (default) or "console" for local runs. Loggers created before
// the call keep their writer.
func ConfigureLogging(level, format string) error {
	var w io.Writer
	switch strings.ToLower(format) {
	case "", "json":
		w = os.Stdout
	case "console":
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMicro}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	output.Store(&w)
	zerolog.SetGlobalLevel(ParseLogLevel(level))
	return nil
}

// NewLogger returns a logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return zerolog.New(*output.Load()).With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a level name to zerolog; unknown names map to info.
func ParseLogLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

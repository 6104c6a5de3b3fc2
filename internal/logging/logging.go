// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/devctx/pkg/types"
)

// Setup parses level, sets the global level and points the global logger
// at w with timestamps. A nil w logs to stderr, since stdout carries MCP
// traffic and JSON output.
func Setup(level string, w io.Writer) error {
	if w == nil {
		w = os.Stderr
	}
	if strings.TrimSpace(level) == "" {
		level = zerolog.LevelInfoValue
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("%w: invalid log level %q", types.ErrConfiguration, level)
	}

	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

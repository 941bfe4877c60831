package retok

import (
	"os"

	"github.com/rs/zerolog"
)

// Version is stamped by the release build.
var Version = "v0.0.0"

// GetLogger returns the default logger for components that were not handed
// one.
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the process logger. Extra writers receive JSON lines
// alongside the console output.
func InitLogger(app string, timestamp, noColor bool, extra ...io.Writer) zerolog.Logger {
	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	if len(extra) > 0 {
		writers := append([]io.Writer{output}, extra...)
		output = zerolog.MultiLevelWriter(writers...)
	}
	ctx := zerolog.New(output).With()
	if timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Str("app", app).Logger()
	log.Logger = logger
	return logger
}

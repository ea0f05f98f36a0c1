package audiocore

import (
	"io"
	"testing"

	"go.uber.org/goleak"

	"github.com/tphakala/audiosrc/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobal(logger.NewSlogLogger(io.Discard, logger.LogLevelTrace))
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

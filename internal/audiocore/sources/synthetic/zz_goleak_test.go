package synthetic

import (
	"io"
	"testing"

	"go.uber.org/goleak"

	"github.com/tphakala/audiosrc/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetGlobal(logger.NewSlogLogger(io.Discard, logger.LogLevelTrace))
	goleak.VerifyTestMain(m)
}

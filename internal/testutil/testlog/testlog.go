package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logging"
)

// Start configures test logging and tags the log stream with the test name.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Debug().Str("test", t.Name()).Msg("test start")
}

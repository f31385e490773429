package daemonrun

import (
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

const (
	treeFailureThreshold = 5.0
	treeFailureDecay     = 30.0
	treeFailureBackoff   = 15 * time.Second
	treeShutdownTimeout  = 10 * time.Second
)

// newTree builds the root supervisor with suture events routed to logger.
func newTree(logger *slog.Logger) *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: logger}
	return suture.New("nudge", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: treeFailureThreshold,
		FailureDecay:     treeFailureDecay,
		FailureBackoff:   treeFailureBackoff,
		Timeout:          treeShutdownTimeout,
	})
}

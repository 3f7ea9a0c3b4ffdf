package httpapi

import (
	"net/http"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/authn"
	"github.com/hivetechs/consensus/internal/eventbus"
	"github.com/hivetechs/consensus/internal/perftracker"
	"github.com/hivetechs/consensus/internal/usagetracker"
)

// NewMux builds the consensus gateway's routed http.Handler, wiring every
// domain endpoint behind the authn bearer-token middleware.
func NewMux(temporal client.Client, taskQueue string, bus *eventbus.Bus, usage *usagetracker.Tracker, perf *perftracker.Tracker, authMiddleware *authn.Middleware, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	NewConsensusHandler(temporal, taskQueue, logger).RegisterRoutes(mux)
	NewEventsHandler(bus, logger).RegisterRoutes(mux)
	NewUsageHandler(usage, logger).RegisterRoutes(mux)
	NewAdminHandler(perf, logger).RegisterRoutes(mux)

	return authMiddleware.HTTPMiddleware(mux)
}

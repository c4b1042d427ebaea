// Package telemetry centralizes the structured-logging and metrics
// setup every treekeep binary shares, grounded on gumlog's agent.go
// setupLogger step (zap.NewDevelopment + ReplaceGlobals) and
// server.go's opencensus registration.
package telemetry

import "go.uber.org/zap"

// NewLogger returns a zap logger for this process: production-shaped
// (JSON, sampled) unless development is set, matching zap's own
// NewProduction/NewDevelopment presets the way gumlog picks between
// them per environment.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Init builds a logger and installs it as the package-level default via
// zap.ReplaceGlobals, so every component's zap.L().Named(...) call
// picks it up without the caller threading a *zap.Logger through every
// constructor -- the same global-logger convention gumlog's
// Agent.setupLogger establishes.
func Init(development bool) (*zap.Logger, error) {
	logger, err := NewLogger(development)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

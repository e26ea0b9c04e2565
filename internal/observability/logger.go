// Package observability wires the structured logger and Prometheus registry
// shared by every engine component, generalizing the ad hoc
// zap.NewProduction()/setupMetrics() calls in the tracking service's
// cmd/server/main.go into constructors every component takes explicitly
// (no package-level logger, per the "mutable module state" design note).
package observability

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger for profile ("dev", "test", "prod").
// dev gets a human-readable console encoder; prod gets JSON.
func NewLogger(profile string) (*zap.Logger, error) {
	switch profile {
	case "dev", "test":
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	default:
		cfg := zap.NewProductionConfig()
		return cfg.Build()
	}
}

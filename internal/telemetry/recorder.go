// Package telemetry provides the operation metrics recorders shared by the
// state director, the pipeline orchestrator and the export service.
package telemetry

import (
	"context"
	"time"
)

// MetricsRecorder observes the outcome and latency of a named operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Nop returns a recorder that discards observations.
func Nop() MetricsRecorder { return nopRecorder{} }

type multiRecorder []MetricsRecorder

func (m multiRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

// Multi fans observations out to every non-nil recorder.
func Multi(recorders ...MetricsRecorder) MetricsRecorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return Nop()
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Command reduction-check validates reduction settings documents, previews
// the pipeline they configure and moves built jobs in and out of the archive.
//
//	reduction-check validate settings.yaml
//	reduction-check show settings.yaml --format json
//	reduction-check plan settings.yaml
//	reduction-check export settings.yaml --job run-42
//	reduction-check import run-42
//	reduction-check list
//
// Storage is configured through REDUCTION_BLOB_* and REDUCTION_ARCHIVE_*
// environment variables; logging through REDUCTION_LOG_LEVEL and
// REDUCTION_LOG_FORMAT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"reductioncore/internal/blob"
	"reductioncore/internal/infra/persistence"
	"reductioncore/internal/logging"
	"reductioncore/internal/telemetry"
)

// Exit codes.
const (
	exitOK       = 0
	exitRejected = 1
	exitError    = 2
)

var exitFunc = os.Exit

// errRejected marks a document whose state failed to build; the report has
// already been written.
var errRejected = errors.New("reduction state rejected")

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

// app carries the collaborators shared by every subcommand.
type app struct {
	stdout, stderr io.Writer
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        telemetry.MetricsRecorder
	totals         *telemetry.ExpvarRecorder

	openBlobs   func(context.Context) (blob.Store, error)
	openArchive func(context.Context) (persistence.Store, error)

	archiveGeometry bool
	showMetrics     bool
}

func newApp(stdout, stderr io.Writer) *app {
	reg := prometheus.NewRegistry()
	totals := telemetry.NewExpvarRecorder("")
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		registry: reg,
		totals:   totals,
		metrics:  telemetry.Multi(telemetry.NewPrometheusRecorder(reg), totals),
		openBlobs: func(ctx context.Context) (blob.Store, error) {
			return blob.Open(ctx)
		},
		openArchive: func(ctx context.Context) (persistence.Store, error) {
			return persistence.Open(ctx, persistence.ConfigFromEnv())
		},
	}
}

func cli(args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(context.Background(), args)
}

func (a *app) execute(ctx context.Context, args []string) int {
	logger, err := logging.New(logging.ConfigFromEnv("reduction-check"))
	if err != nil {
		_, _ = fmt.Fprintf(a.stderr, "logging: %v\n", err)
		return exitError
	}
	if a.logger == nil {
		a.logger = logger
	}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err = root.ExecuteContext(ctx)
	a.logger.Debug("command finished", "results", a.totals.Snapshot().Results)
	if a.showMetrics {
		a.dumpMetrics()
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errRejected):
		return exitRejected
	default:
		_, _ = fmt.Fprintf(a.stderr, "error: %v\n", err)
		return exitError
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reduction-check",
		Short:         "Validate and inspect SANS reduction settings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&a.archiveGeometry, "archive-geometry", false, "resolve detector geometry from the archive catalog instead of the nominal tables")
	root.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print Prometheus metrics to stderr on exit")
	root.AddCommand(
		a.validateCmd(),
		a.showCmd(),
		a.planCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.listCmd(),
		a.seedCmd(),
	)
	return root
}

func (a *app) dumpMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Warn("gather metrics", "error", err)
		return
	}
	enc := expfmt.NewEncoder(a.stderr, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			a.logger.Warn("encode metrics", "error", err)
			return
		}
	}
}

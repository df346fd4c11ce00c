package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"reductioncore/internal/export"
	"reductioncore/internal/infra/persistence"
	"reductioncore/internal/pipeline"
	"reductioncore/internal/settings"
	"reductioncore/internal/state"
	"reductioncore/pkg/stateapi"
)

// build loads a settings document and builds its state, writing the issue
// report when the build fails.
func (a *app) build(ctx context.Context, path string) (*settings.Document, *state.AllStates, error) {
	doc, err := settings.Load(path)
	if err != nil {
		return nil, nil, err
	}
	geometry, closeFn, err := a.geometry(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer closeFn()
	dir, err := doc.Configure(
		state.WithGeometry(geometry),
		state.WithLogger(a.logger),
		state.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, nil, err
	}
	all, report := dir.BuildAll(ctx)
	if !report.OK() {
		a.writeReport(report)
		return nil, nil, errRejected
	}
	return doc, all, nil
}

func (a *app) geometry(ctx context.Context) (stateapi.GeometryLookup, func(), error) {
	if !a.archiveGeometry {
		return state.NominalGeometry(), func() {}, nil
	}
	store, err := a.openArchive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func (a *app) writeReport(report state.Report) {
	for _, stage := range report.Failed() {
		_, _ = fmt.Fprintf(a.stdout, "%s: FAILED\n", stage)
		for _, issue := range report.For(stage) {
			_, _ = fmt.Fprintf(a.stdout, "  %s\n", issue.Error())
		}
	}
	if len(report.InterStage) > 0 {
		_, _ = fmt.Fprintln(a.stdout, "inter-stage: FAILED")
		for _, issue := range report.InterStage {
			_, _ = fmt.Fprintf(a.stdout, "  %s\n", issue.Error())
		}
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Build every stage of a settings document and report issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, all, err := a.build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "ok: %d stages\n", all.Len())
			return err
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print the built state as flat properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, all, err := a.build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printState(all, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func (a *app) printState(all *state.AllStates, format string) error {
	props := state.EncodeAll(all).Strings()
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(props)
	case "text", "":
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, err := fmt.Fprintf(a.stdout, "%s = %s\n", key, props[key]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func (a *app) planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan FILE",
		Short: "Dry-run the pipeline steps of a settings document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, all, err := a.build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			steps := pipeline.DefaultSteps(all)
			if len(doc.Steps) > 0 {
				if steps, err = pipeline.ParseSteps(doc.Steps); err != nil {
					return err
				}
			}
			orch, err := pipeline.New(pipeline.DryRunRunner(a.stdout),
				pipeline.WithLogger(a.logger),
				pipeline.WithMetrics(a.metrics),
			)
			if err != nil {
				return err
			}
			summary, err := orch.Run(cmd.Context(), doc.Job, all, steps)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "planned %d steps for job %s\n", len(summary.Steps), summary.JobID)
			return err
		},
	}
}

// service opens both stores and returns an export service plus a release func.
func (a *app) service(ctx context.Context) (*export.Service, func(), error) {
	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}
	archive, err := a.openArchive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	svc, err := export.New(blobs, archive, export.WithLogger(a.logger), export.WithMetrics(a.metrics))
	if err != nil {
		_ = archive.Close()
		return nil, nil, err
	}
	return svc, func() { _ = archive.Close() }, nil
}

func (a *app) exportCmd() *cobra.Command {
	var jobID, name string
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Build a settings document and archive the frozen state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, all, err := a.build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			svc, release, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			if jobID == "" {
				jobID = doc.Job
			}
			if name == "" {
				name = doc.Instrument
			}
			job, err := svc.Export(cmd.Context(), jobID, name, all)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "exported job %s (%d properties) to %s\n", job.JobID, len(job.Properties), job.BlobKey)
			return err
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job identifier (default: document job, else a random UUID)")
	cmd.Flags().StringVar(&name, "name", "", "job display name (default: instrument)")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import KEY",
		Short: "Restore an exported job by job ID or blob key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			key := args[0]
			var all *state.AllStates
			if strings.Contains(key, "/") {
				all, _, err = svc.ImportBlob(cmd.Context(), key)
			} else {
				all, _, err = svc.Import(cmd.Context(), key)
			}
			if err != nil {
				return err
			}
			return a.printState(all, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, release, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			jobs, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, j := range jobs {
				if _, err := fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", j.JobID, j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), j.Name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-geometry",
		Short: "Load the nominal instrument geometry into the archive catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openArchive(cmd.Context())
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			defer func() { _ = store.Close() }()
			nominal := state.NominalGeometry()
			if err := persistence.Seed(cmd.Context(), store, nominal); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "seeded %d instruments\n", len(nominal))
			return err
		},
	}
}

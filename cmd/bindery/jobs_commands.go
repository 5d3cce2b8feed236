package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bindery/internal/config"
	"bindery/internal/media/ffmpeg"
	"bindery/internal/pipeline"
	"bindery/internal/registry"
)

func newJobsCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the job registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsList(cmdCtx, cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-run a failed job with its original settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsRetry(cmdCtx, cmd, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove completed jobs from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withRegistry(func(_ *config.Config, reg *registry.Registry) error {
				removed, err := reg.ClearCompleted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d completed job(s)\n", removed)
				return nil
			})
		},
	})

	return cmd
}

func runJobsList(cmdCtx *commandContext, cmd *cobra.Command) error {
	return cmdCtx.withRegistry(func(_ *config.Config, reg *registry.Registry) error {
		records, err := reg.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(records))
		return nil
	})
}

func runJobsRetry(cmdCtx *commandContext, cmd *cobra.Command, rawID string) error {
	return cmdCtx.withRegistry(func(cfg *config.Config, reg *registry.Registry) error {
		id, err := resolveJobID(cmd, reg, rawID)
		if err != nil {
			return err
		}

		h, j, err := reg.Retry(cmd.Context(), id)
		if err != nil {
			return err
		}

		logger, err := cmdCtx.ensureLogger()
		if err != nil {
			return err
		}
		enc := ffmpeg.NewCLI(ffmpeg.WithBinaries(cfg.Processing.FFmpegBinary, cfg.Processing.FFprobeBinary))
		p := pipeline.New(enc, reg, logger)

		if err := p.Assemble(cmd.Context(), j, h); err != nil {
			return fmt.Errorf("%s: %w", j.Book.Title, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: done\n", j.Book.Title)
		return nil
	})
}

// resolveJobID accepts a full UUID or an unambiguous prefix.
func resolveJobID(cmd *cobra.Command, reg *registry.Registry, raw string) (uuid.UUID, error) {
	if id, err := uuid.Parse(raw); err == nil {
		return id, nil
	}

	records, err := reg.List(cmd.Context())
	if err != nil {
		return uuid.Nil, err
	}
	var matches []uuid.UUID
	for _, rec := range records {
		if len(raw) >= 4 && strings.HasPrefix(rec.ID.String(), raw) {
			matches = append(matches, rec.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return uuid.Nil, fmt.Errorf("no job matches %q", raw)
	default:
		return uuid.Nil, fmt.Errorf("%q matches %d jobs, use more characters", raw, len(matches))
	}
}

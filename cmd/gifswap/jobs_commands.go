package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"gifswap/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var status queue.Status
			if statusFilter != "" {
				parsed, ok := queue.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				status = parsed
			}

			jobs, err := store.ListJobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					string(job.Status),
					job.Strategy,
					strconv.Itoa(job.FramesDone) + "/" + strconv.Itoa(job.FramesTotal),
					strconv.Itoa(job.FacesFound),
					job.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "STATUS", "STRATEGY", "FRAMES", "FACES", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by job status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")

	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show details for a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", job.ID)
			fmt.Fprintf(out, "Status:    %s\n", job.Status)
			fmt.Fprintf(out, "Strategy:  %s\n", job.Strategy)
			if job.ProgressStage != "" {
				fmt.Fprintf(out, "Stage:     %s (%.0f%%)\n", job.ProgressStage, job.ProgressPercent)
			}
			fmt.Fprintf(out, "Frames:    %d/%d\n", job.FramesDone, job.FramesTotal)
			fmt.Fprintf(out, "Faces:     %d\n", job.FacesFound)
			fmt.Fprintf(out, "Input:     %s\n", filepath.Base(job.GifPath))
			if job.OutputPath != "" {
				fmt.Fprintf(out, "Output:    %s\n", job.OutputPath)
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Updated:   %s\n", job.UpdatedAt.Local().Format(time.DateTime))
			return nil
		},
	}
}

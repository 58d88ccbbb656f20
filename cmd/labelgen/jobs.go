package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/labelgen/internal/api"
	"github.com/phrazzld/labelgen/internal/domain"
	"github.com/phrazzld/labelgen/internal/service"
	"github.com/spf13/cobra"
)

// maxStdinLabelBytes bounds a single label line read from stdin.
const maxStdinLabelBytes = 64 * 1024

// withJobService opens the configured store, runs fn against a job service
// without a worker, and closes the store again.
func (c *cliContext) withJobService(
	cmd *cobra.Command,
	fn func(ctx context.Context, jobs *service.JobService) error,
) error {
	ctx := cmd.Context()

	h, err := openStore(ctx, c.cfg, c.logger, nil)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer func() {
		if err := h.close(); err != nil {
			c.logger.Error("Error closing database connection", "error", err)
		}
	}()

	jobs, err := service.NewJobService(h.jobs, c.logger)
	if err != nil {
		return err
	}
	return fn(ctx, jobs)
}

func submitCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [label...]",
		Short: "Enqueue one job per label",
		Long: `Enqueue one job per label and print the new job ids in input order.

With no arguments, labels are read from stdin, one per line. Blank lines are
skipped. A running worker picks the jobs up on its next poll.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			labels := args
			if len(labels) == 0 {
				var err error
				labels, err = readLabels(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			return cli.withJobService(cmd, func(ctx context.Context, jobs *service.JobService) error {
				ids, err := jobs.Submit(ctx, labels)
				if err != nil {
					return err
				}
				return printJSON(cmd, api.SubmitJobsResponse{IDs: ids})
			})
		},
	}
}

// readLabels reads one label per non-blank line.
func readLabels(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxStdinLabelBytes)

	var labels []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}

func statusCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id...]",
		Short: "Show queue counts, or the jobs with the given ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}

			return cli.withJobService(cmd, func(ctx context.Context, jobs *service.JobService) error {
				if len(ids) == 0 {
					stats, err := jobs.Stats(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd, api.StatsResponse{Counts: stats.Counts, Total: stats.Total})
				}

				resp := api.JobListResponse{Jobs: make([]api.JobResponse, 0, len(ids))}
				for _, id := range ids {
					job, err := jobs.Get(ctx, id)
					if err != nil {
						return err
					}
					resp.Jobs = append(resp.Jobs, api.NewJobResponse(job))
				}
				resp.Count = len(resp.Jobs)
				return printJSON(cmd, resp)
			})
		},
	}
}

func listCmd(cli *cliContext) *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter domain.JobState
			if state != "" {
				var err error
				if filter, err = domain.ParseJobState(state); err != nil {
					return err
				}
			}
			if limit < 1 || limit > api.MaxListLimit {
				return fmt.Errorf("--limit must be between 1 and %d", api.MaxListLimit)
			}

			return cli.withJobService(cmd, func(ctx context.Context, jobs *service.JobService) error {
				found, err := jobs.List(ctx, filter, limit)
				if err != nil {
					return err
				}
				resp := api.JobListResponse{Jobs: make([]api.JobResponse, 0, len(found))}
				for _, job := range found {
					resp.Jobs = append(resp.Jobs, api.NewJobResponse(job))
				}
				resp.Count = len(resp.Jobs)
				return printJSON(cmd, resp)
			})
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "only list jobs in this state (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", api.DefaultListLimit, "maximum number of jobs to list")
	return cmd
}

func resetStaleCmd(cli *cliContext) *cobra.Command {
	var (
		olderThan   time.Duration
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "reset-stale",
		Short: "Return abandoned processing jobs to the queue",
		Long: `Return processing jobs that have not been updated for --older-than to
pending. Jobs that already used --max-attempts claims are marked failed
instead. Both default to the dispatcher settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				olderThan = cli.cfg.Dispatcher.StaleAfter()
			}
			if maxAttempts <= 0 {
				maxAttempts = cli.cfg.Dispatcher.MaxAttempts
			}

			return cli.withJobService(cmd, func(ctx context.Context, jobs *service.JobService) error {
				result, err := jobs.ResetStale(ctx, olderThan, maxAttempts)
				if err != nil {
					return err
				}
				return printJSON(cmd, api.ResetStaleResponse{Requeued: result.Requeued, Failed: result.Failed})
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "staleness threshold (default dispatcher.stale_after_minutes)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt limit (default dispatcher.max_attempts)")
	return cmd
}

package cmd

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kgraph/pkg/api"
)

func newJobCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and control ingestion jobs",
	}

	cmd.AddCommand(newJobListCmd(global))
	cmd.AddCommand(newJobStatusCmd(global))
	cmd.AddCommand(newJobApproveCmd(global))
	cmd.AddCommand(newJobCancelCmd(global))
	cmd.AddCommand(newJobDeleteCmd(global))
	return cmd
}

func newJobListCmd(global *globalOptions) *cobra.Command {
	var (
		statuses []string
		jobType  string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if global.ontology != "" {
				params.Set("ontology", global.ontology)
			}
			if len(statuses) > 0 {
				params.Set("status", strings.Join(statuses, ","))
			}
			if jobType != "" {
				params.Set("type", jobType)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			path := "/jobs/"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var views []api.JobView
			if err := newClient(global).get(cmd.Context(), path, &views); err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), views)
			}

			w := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(w, "no jobs")
				return nil
			}
			for _, v := range views {
				name := v.Filename
				if name == "" {
					name = v.SourceURL
				}
				fmt.Fprintf(w, "%s  %-18s %-12s %3.0f%%  $%.4f  %s  %s\n",
					v.JobID, v.Status, v.Type, v.Progress.Percent,
					v.Cost.ActualUSD, v.SubmittedAt.Format(time.RFC3339), name)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&jobType, "type", "", "Filter by job type")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum jobs to return")
	return cmd
}

func newJobStatusCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view api.JobView
			err := newClient(global).get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]), &view)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			printJob(cmd.OutOrStdout(), view)
			return nil
		},
	}
	return cmd
}

func printJob(w io.Writer, v api.JobView) {
	fmt.Fprintf(w, "job %s  %s  (%s)\n", v.JobID, v.Status, v.Type)
	fmt.Fprintf(w, "  ontology:  %s\n", v.Ontology)
	if v.Filename != "" {
		fmt.Fprintf(w, "  file:      %s\n", v.Filename)
	}
	if v.SourceURL != "" {
		fmt.Fprintf(w, "  url:       %s\n", v.SourceURL)
	}
	if v.ContentHash != "" {
		fmt.Fprintf(w, "  hash:      %s\n", v.ContentHash)
	}
	if v.Progress.Stage != "" {
		fmt.Fprintf(w, "  stage:     %s\n", v.Progress.Stage)
	}
	fmt.Fprintf(w, "  progress:  %d/%d chunks (%.0f%%)\n",
		v.Progress.ChunksDone, v.Progress.ChunksTotal, v.Progress.Percent)
	fmt.Fprintf(w, "  created:   %d concepts (%d reused), %d instances, %d edges, %d new types\n",
		v.Progress.ConceptsCreated, v.Progress.ConceptsReused,
		v.Progress.InstancesCreated, v.Progress.EdgesCreated, v.Progress.NewTypesCreated)
	fmt.Fprintf(w, "  tokens:    %d in, %d out\n", v.Progress.TokensIn, v.Progress.TokensOut)
	fmt.Fprintf(w, "  cost:      $%.4f estimated, $%.4f actual\n", v.Cost.EstimatedUSD, v.Cost.ActualUSD)
	fmt.Fprintf(w, "  submitted: %s\n", v.SubmittedAt.Format(time.RFC3339))
	if v.ApprovedAt != nil {
		fmt.Fprintf(w, "  approved:  %s\n", v.ApprovedAt.Format(time.RFC3339))
	}
	if v.StartedAt != nil {
		fmt.Fprintf(w, "  started:   %s\n", v.StartedAt.Format(time.RFC3339))
	}
	if v.FinishedAt != nil {
		fmt.Fprintf(w, "  finished:  %s\n", v.FinishedAt.Format(time.RFC3339))
	}
	if v.ExpiresAt != nil {
		fmt.Fprintf(w, "  expires:   %s\n", v.ExpiresAt.Format(time.RFC3339))
	}
	if v.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", v.Error)
	}
	for _, ce := range v.ChunkErrors {
		fmt.Fprintf(w, "  chunk %d failed: %s\n", ce.ChunkIndex, ce.Message)
	}
}

func newJobApproveCmd(global *globalOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Approve a pending job for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view api.JobView
			err := newClient(global).post(cmd.Context(),
				"/jobs/"+url.PathEscape(args[0])+"/approve",
				api.ApproveJobRequest{Note: note}, &view)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", view.JobID, view.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Audit note recorded with the approval")
	return cmd
}

func newJobCancelCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view api.JobView
			err := newClient(global).post(cmd.Context(),
				"/jobs/"+url.PathEscape(args[0])+"/cancel", nil, &view)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", view.JobID, view.Status)
			return nil
		},
	}
	return cmd
}

func newJobDeleteCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a terminal job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newClient(global).delete(cmd.Context(), "/jobs/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s deleted\n", args[0])
			return nil
		},
	}
	return cmd
}

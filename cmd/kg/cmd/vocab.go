package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kgraph/pkg/api"
)

func newVocabCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Manage the relationship type vocabulary",
	}

	cmd.AddCommand(newVocabStatusCmd(global))
	cmd.AddCommand(newVocabListCmd(global))
	cmd.AddCommand(newVocabConsolidateCmd(global))
	cmd.AddCommand(newVocabMergeCmd(global))
	return cmd
}

func newVocabStatusCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vocabulary size and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status api.VocabStatus
			if err := newClient(global).get(cmd.Context(), "/vocabulary/status", &status); err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), status)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "active types: %d of %d (%d builtin, %d created)\n",
				status.ActiveCount, status.TotalCount, status.BuiltinActive, status.CreatedActive)
			fmt.Fprintf(w, "zone: %s\n", status.Zone)
			if status.Note != "" {
				fmt.Fprintf(w, "note: %s\n", status.Note)
			}
			for _, cat := range sortedKeys(status.ByCategory) {
				fmt.Fprintf(w, "  %-16s %d\n", cat, status.ByCategory[cat])
			}
			return nil
		},
	}
	return cmd
}

func newVocabListCmd(global *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List relationship types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/vocabulary/list"
			if all {
				path += "?include_inactive=true"
			}
			var types []api.VocabTypeView
			if err := newClient(global).get(cmd.Context(), path, &types); err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), types)
			}

			w := cmd.OutOrStdout()
			for _, t := range types {
				origin := "created"
				if t.Builtin {
					origin = "builtin"
				}
				fmt.Fprintf(w, "%-32s %-12s %-13s %-7s uses=%d", t.Name, t.Category, t.Direction, origin, t.UsageCount)
				if !t.Active {
					if t.MergedInto != "" {
						fmt.Fprintf(w, "  (merged into %s)", t.MergedInto)
					} else {
						fmt.Fprint(w, "  (inactive)")
					}
				}
				if t.Ambiguous {
					fmt.Fprint(w, "  (ambiguous)")
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include inactive and merged types")
	return cmd
}

func newVocabConsolidateCmd(global *globalOptions) *cobra.Command {
	var (
		dryRun     bool
		targetSize int
		threshold  float64
		maxPairs   int
	)

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge near-duplicate relationship types",
		Long: `Find pairs of similar active types and merge the younger, less used one
into the other. Run with --dry-run first to review the decisions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report api.ConsolidationReport
			err := newClient(global).post(cmd.Context(), "/vocabulary/consolidate", api.ConsolidateRequest{
				TargetSize: targetSize,
				Threshold:  threshold,
				DryRun:     dryRun,
				MaxPairs:   maxPairs,
			}, &report)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			w := cmd.OutOrStdout()
			if report.DryRun {
				fmt.Fprintln(w, "dry run, nothing changed")
			}
			fmt.Fprintf(w, "active types: %d -> %d (%d pairs examined, %d merged)\n",
				report.StartActive, report.EndActive, report.Pairs, report.Merged)
			for _, d := range report.Decisions {
				fmt.Fprintf(w, "  %-8s %s -> %s  (%.3f)", d.Action, d.Source, d.Target, d.Similarity)
				if d.EdgesMoved > 0 {
					fmt.Fprintf(w, "  %d edges moved", d.EdgesMoved)
				}
				if d.Reason != "" {
					fmt.Fprintf(w, "  %s", d.Reason)
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report decisions without applying them")
	cmd.Flags().IntVar(&targetSize, "target-size", 0, "Stop once the active count reaches this size")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity above which a pair is considered")
	cmd.Flags().IntVar(&maxPairs, "max-pairs", 0, "Maximum pairs to adjudicate in one run")
	return cmd
}

func newVocabMergeCmd(global *globalOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "merge <from> <into>",
		Short: "Merge one relationship type into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result api.MergeResult
			err := newClient(global).post(cmd.Context(), "/vocabulary/merge", api.MergeTypesRequest{
				From:   args[0],
				Into:   args[1],
				Reason: reason,
			}, &result)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %s into %s, %d edges moved\n",
				result.From, result.Into, result.EdgesMoved)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Audit note recorded with the merge")
	return cmd
}

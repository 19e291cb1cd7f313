package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kgraph/pkg/api"
)

func newPolarityCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polarity",
		Short: "Analyze opposition axes in the graph",
	}

	cmd.AddCommand(newPolarityAnalyzeCmd(global))
	cmd.AddCommand(newPolarityProjectCmd(global))
	cmd.AddCommand(newPolarityDiscoverCmd(global))
	return cmd
}

func newPolarityAnalyzeCmd(global *globalOptions) *cobra.Command {
	var (
		grounding  bool
		paths      bool
		evidence   bool
		maxResults int
	)

	cmd := &cobra.Command{
		Use:   "analyze <positive-id> <negative-id>",
		Short: "Build an axis between two poles and project discovered candidates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var analysis api.PolarityAnalysis
			err := newClient(global).post(cmd.Context(), "/query/polarity-axis", api.PolarityAxisRequest{
				PositivePoleID:        args[0],
				NegativePoleID:        args[1],
				IncludeGrounding:      grounding,
				IncludePathAnalysis:   paths,
				IncludeSourceEvidence: evidence,
				Ontology:              global.ontology,
				MaxResults:            maxResults,
			}, &analysis)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), analysis)
			}
			printAnalysis(cmd.OutOrStdout(), analysis)
			return nil
		},
	}

	cmd.Flags().BoolVar(&grounding, "grounding", false, "Include grounding scores and their axis correlation")
	cmd.Flags().BoolVar(&paths, "paths", false, "Score pole-to-pole paths by axis coherence")
	cmd.Flags().BoolVar(&evidence, "evidence", false, "Include verbatim evidence for projected concepts")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Maximum candidates to project")
	return cmd
}

func newPolarityProjectCmd(global *globalOptions) *cobra.Command {
	var grounding bool

	cmd := &cobra.Command{
		Use:   "project <positive-id> <negative-id> <candidate-id>...",
		Short: "Project chosen concepts onto an axis",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			discovery := false
			var analysis api.PolarityAnalysis
			err := newClient(global).post(cmd.Context(), "/query/polarity-axis", api.PolarityAxisRequest{
				PositivePoleID:     args[0],
				NegativePoleID:     args[1],
				CandidateIDs:       args[2:],
				CandidateDiscovery: &discovery,
				IncludeGrounding:   grounding,
				Ontology:           global.ontology,
			}, &analysis)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), analysis)
			}
			printAnalysis(cmd.OutOrStdout(), analysis)
			return nil
		},
	}

	cmd.Flags().BoolVar(&grounding, "grounding", false, "Include grounding scores and their axis correlation")
	return cmd
}

func printAnalysis(w io.Writer, a api.PolarityAnalysis) {
	fmt.Fprintf(w, "axis: %s <-> %s  magnitude=%.3f quality=%s\n",
		a.Axis.PositivePoleLabel, a.Axis.NegativePoleLabel, a.Axis.Magnitude, a.Axis.Quality)
	if a.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", a.Warning)
	}
	for _, p := range a.Projections {
		fmt.Fprintf(w, "  %+.3f  %-10s %s  %s", p.Position, p.Direction, p.ID, p.Label)
		if p.Grounding != nil {
			fmt.Fprintf(w, "  grounding=%.2f", p.Grounding.Score)
		}
		fmt.Fprintln(w)
		for _, ev := range p.Evidence {
			fmt.Fprintf(w, "          %q (%s)\n", ev.Quote, ev.SourceID)
		}
	}
	if a.Statistics != nil {
		fmt.Fprintf(w, "stats: mean=%+.3f stddev=%.3f range=[%+.3f, %+.3f]\n",
			a.Statistics.MeanPosition, a.Statistics.StdDev,
			a.Statistics.MinPosition, a.Statistics.MaxPosition)
	}
	if a.Correlation != nil {
		fmt.Fprintf(w, "grounding correlation: r=%+.3f (%s, n=%d)\n",
			a.Correlation.R, a.Correlation.Strength, a.Correlation.Samples)
	}
	for _, pa := range a.PathAnalysis {
		fmt.Fprintf(w, "path coherence=%.3f curvature=%.3f hops=%d\n",
			pa.Coherence, pa.MeanCurvature, pa.Path.Hops)
	}
}

func newPolarityDiscoverCmd(global *globalOptions) *cobra.Command {
	var (
		types        []string
		minMagnitude float64
		maxResults   int
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find opposition axes already present in the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.DiscoverResponse
			err := newClient(global).post(cmd.Context(), "/query/discover-polarity-axes", api.DiscoverAxesRequest{
				RelationshipTypes: types,
				MinMagnitude:      minMagnitude,
				MaxResults:        maxResults,
				Ontology:          global.ontology,
			}, &resp)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), resp)
			}

			w := cmd.OutOrStdout()
			if len(resp.Axes) == 0 {
				fmt.Fprintln(w, "no axes found")
				return nil
			}
			for _, ax := range resp.Axes {
				fmt.Fprintf(w, "%.3f  %-8s %s <-[%s]-> %s\n",
					ax.Magnitude, ax.Quality, ax.LabelA, ax.EdgeType, ax.LabelB)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&types, "types", nil, "Relationship types to treat as opposition edges")
	cmd.Flags().Float64Var(&minMagnitude, "min-magnitude", 0, "Minimum axis magnitude to report")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Maximum axes to return")
	return cmd
}

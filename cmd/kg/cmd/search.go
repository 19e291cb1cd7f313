package cmd

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"kgraph/pkg/api"
)

// conceptIDPattern matches stable concept ids so connect can tell ids from
// free-text queries.
var conceptIDPattern = regexp.MustCompile(`^c_[0-9a-f]{12}$`)

func newSearchCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search and explore the graph",
	}

	cmd.AddCommand(newSearchQueryCmd(global))
	cmd.AddCommand(newSearchDetailsCmd(global))
	cmd.AddCommand(newSearchRelatedCmd(global))
	cmd.AddCommand(newSearchConnectCmd(global))
	return cmd
}

func newSearchQueryCmd(global *globalOptions) *cobra.Command {
	var (
		limit         int
		offset        int
		minSimilarity float64
		mode          string
		grounding     bool
		evidence      bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find concepts matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.SearchResponse
			err := newClient(global).post(cmd.Context(), "/query/search", api.SearchRequest{
				Query:            args[0],
				Limit:            limit,
				Offset:           offset,
				MinSimilarity:    minSimilarity,
				Ontology:         global.ontology,
				Mode:             mode,
				IncludeGrounding: grounding,
				IncludeEvidence:  evidence,
			}, &resp)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printSearchResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum hits to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Hits to skip, for paging")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Similarity cutoff in [0,1]")
	cmd.Flags().StringVar(&mode, "mode", "", "Search mode: semantic, keyword or hybrid")
	cmd.Flags().BoolVar(&grounding, "grounding", false, "Include grounding scores")
	cmd.Flags().BoolVar(&evidence, "evidence", false, "Include verbatim evidence quotes")
	return cmd
}

func printSearchResponse(w io.Writer, resp api.SearchResponse) {
	if len(resp.Hits) == 0 {
		fmt.Fprintln(w, "no matches")
	}
	for _, hit := range resp.Hits {
		fmt.Fprintf(w, "%.3f  %s  %s", hit.Score, hit.ID, hit.Label)
		if hit.Ontology != "" {
			fmt.Fprintf(w, "  [%s]", hit.Ontology)
		}
		fmt.Fprintln(w)
		if hit.Description != "" {
			fmt.Fprintf(w, "       %s\n", hit.Description)
		}
		if hit.Grounding != nil {
			fmt.Fprintf(w, "       grounding %.2f (affirmative %.2f, contradictory %.2f)\n",
				hit.Grounding.Score, hit.Grounding.Affirmative, hit.Grounding.Contradictory)
		}
		for _, ev := range hit.Evidence {
			fmt.Fprintf(w, "       %q (%s)\n", ev.Quote, ev.SourceID)
		}
	}
	if resp.Hint != nil {
		fmt.Fprintf(w, "hint: %d matches below the cutoff; best %q at %.3f, retry with --min-similarity %.2f\n",
			resp.Hint.BelowThresholdCount, resp.Hint.TopMatchLabel,
			resp.Hint.TopMatchScore, resp.Hint.SuggestedThreshold)
	}
}

func newSearchDetailsCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "details <concept-id>",
		Short: "Show a concept with its evidence and grounding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var details api.ConceptDetails
			err := newClient(global).post(cmd.Context(), "/query/concept", api.ConceptRequest{
				ConceptID: args[0],
				Action:    "details",
			}, &details)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), details)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s  %s  [%s]\n", details.ID, details.Label, details.Ontology)
			if details.Description != "" {
				fmt.Fprintf(w, "  %s\n", details.Description)
			}
			if len(details.SearchTerms) > 0 {
				fmt.Fprintf(w, "  terms: %s\n", strings.Join(details.SearchTerms, ", "))
			}
			if details.Grounding != nil {
				fmt.Fprintf(w, "  grounding %.2f (affirmative %.2f, contradictory %.2f)\n",
					details.Grounding.Score, details.Grounding.Affirmative, details.Grounding.Contradictory)
			}
			fmt.Fprintf(w, "  instances: %d\n", details.InstanceCount)
			for _, inst := range details.Instances {
				fmt.Fprintf(w, "    %q (%s, chunk %d)\n", inst.Quote, inst.SourceID, inst.ChunkIndex)
			}
			if len(details.EdgeCounts) > 0 {
				fmt.Fprintln(w, "  edges:")
				for _, typ := range sortedKeys(details.EdgeCounts) {
					fmt.Fprintf(w, "    %-24s %d\n", typ, details.EdgeCounts[typ])
				}
			}
			return nil
		},
	}
	return cmd
}

func newSearchRelatedCmd(global *globalOptions) *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "related <concept-id>",
		Short: "List a concept's neighbors grouped by relationship type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp api.RelatedResponse
			err := newClient(global).post(cmd.Context(), "/query/concept", api.ConceptRequest{
				ConceptID: args[0],
				Action:    "related",
				Direction: direction,
			}, &resp)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), resp)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s  %s\n", resp.ID, resp.Label)
			if len(resp.Groups) == 0 {
				fmt.Fprintln(w, "  no relationships")
			}
			for _, group := range resp.Groups {
				fmt.Fprintf(w, "  %s:\n", group.Type)
				for _, n := range group.Neighbors {
					arrow := "->"
					if n.Direction == "in" {
						arrow = "<-"
					}
					fmt.Fprintf(w, "    %s %s  %s  (%.2f)\n", arrow, n.ID, n.Label, n.Confidence)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "", "Edge direction: out, in or either")
	return cmd
}

func newSearchConnectCmd(global *globalOptions) *cobra.Command {
	var (
		maxHops       int
		k             int
		directed      bool
		minSimilarity float64
	)

	cmd := &cobra.Command{
		Use:   "connect <from> <to>",
		Short: "Find paths between two concepts",
		Long: `Find paths between two concepts. Arguments that look like concept ids
are used directly; anything else is resolved by search first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := args[0], args[1]
			w := cmd.OutOrStdout()

			if conceptIDPattern.MatchString(from) && conceptIDPattern.MatchString(to) {
				var resp api.ConnectResponse
				err := newClient(global).post(cmd.Context(), "/query/concept", api.ConceptRequest{
					ConceptID: from,
					Action:    "connect",
					ToID:      to,
					MaxHops:   maxHops,
					Directed:  directed,
					K:         k,
				}, &resp)
				if err != nil {
					return err
				}
				if global.jsonOut {
					return writeJSON(w, resp)
				}
				printPaths(w, resp.Paths, resp.BudgetExceeded, resp.Message)
				return nil
			}

			var resp api.ConnectBySearchResponse
			err := newClient(global).post(cmd.Context(), "/query/connect-by-search", api.ConnectBySearchRequest{
				FromQuery:     from,
				ToQuery:       to,
				MaxHops:       maxHops,
				MinSimilarity: minSimilarity,
				Ontology:      global.ontology,
				Directed:      directed,
				K:             k,
			}, &resp)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(w, resp)
			}
			if resp.FromMatch != nil {
				fmt.Fprintf(w, "from: %s  %s  (%.3f)\n", resp.FromMatch.ID, resp.FromMatch.Label, resp.FromMatch.Score)
			}
			if resp.ToMatch != nil {
				fmt.Fprintf(w, "to:   %s  %s  (%.3f)\n", resp.ToMatch.ID, resp.ToMatch.Label, resp.ToMatch.Score)
			}
			printPaths(w, resp.Paths, resp.BudgetExceeded, resp.Message)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxHops, "max-hops", 0, "Maximum path length")
	cmd.Flags().IntVar(&k, "k", 0, "Number of paths to return")
	cmd.Flags().BoolVar(&directed, "directed", false, "Follow edge direction")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Similarity cutoff for resolving free-text endpoints")
	return cmd
}

func printPaths(w io.Writer, paths []api.PathView, budgetExceeded bool, message string) {
	if len(paths) == 0 {
		if message != "" {
			fmt.Fprintln(w, message)
		} else {
			fmt.Fprintln(w, "no path found")
		}
		return
	}
	for i, path := range paths {
		fmt.Fprintf(w, "path %d (%d hops): ", i+1, path.Hops)
		parts := make([]string, 0, len(path.Nodes)+len(path.Edges))
		for j, node := range path.Nodes {
			parts = append(parts, node.Label)
			if j < len(path.Edges) {
				parts = append(parts, fmt.Sprintf("-[%s]-", path.Edges[j].Type))
			}
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
	}
	if budgetExceeded {
		fmt.Fprintln(w, "search budget exceeded; results may be incomplete")
	}
}

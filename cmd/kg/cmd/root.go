// Package cmd provides the CLI commands for kg, a thin client over the
// knowledge graph engine's REST API.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// globalOptions carries the flags shared by every subcommand.
type globalOptions struct {
	server   string
	ontology string
	jsonOut  bool
}

// NewRootCmd creates the root command for the kg CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "kg",
		Short: "Client for the knowledge graph engine",
		Long: `kg talks to a running kgraph server over its REST API.

Content goes in through approval-gated ingestion jobs; concepts come back
out through semantic search, graph traversal and polarity analysis.

Examples:
  kg ingest file notes.md --ontology health
  kg job list --status awaiting_approval
  kg job approve j_4f2c91
  kg search query "cortisol regulation" --ontology health
  kg search connect c_88ba2f11d3e0 c_41c09ae57f22
  kg polarity discover --ontology health`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", defaultServer(), "Base URL of the kgraph server")
	cmd.PersistentFlags().StringVar(&opts.ontology, "ontology", "", "Ontology the operation applies to")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Emit raw JSON instead of formatted text")

	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newJobCmd(opts))
	cmd.AddCommand(newVocabCmd(opts))
	cmd.AddCommand(newPolarityCmd(opts))
	cmd.AddCommand(newOntologyCmd(opts))

	return cmd
}

func defaultServer() string {
	if s := os.Getenv("KG_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

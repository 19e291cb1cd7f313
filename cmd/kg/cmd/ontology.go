package cmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"kgraph/pkg/api"
)

func newOntologyCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "Manage graph partitions",
	}

	cmd.AddCommand(newOntologyListCmd(global))
	cmd.AddCommand(newOntologyInfoCmd(global))
	cmd.AddCommand(newOntologyFilesCmd(global))
	cmd.AddCommand(newOntologyRenameCmd(global))
	cmd.AddCommand(newOntologyDeleteCmd(global))
	return cmd
}

func newOntologyListCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ontologies with their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var views []api.OntologyView
			if err := newClient(global).get(cmd.Context(), "/ontology/", &views); err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), views)
			}

			w := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(w, "no ontologies")
				return nil
			}
			for _, v := range views {
				fmt.Fprintf(w, "%-24s %6d concepts  %6d edges  %4d documents\n",
					v.Name, v.Concepts, v.Relationships, v.Documents)
			}
			return nil
		},
	}
	return cmd
}

func newOntologyInfoCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show one ontology's statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats api.StatsView
			err := newClient(global).get(cmd.Context(), "/ontology/"+url.PathEscape(args[0]), &stats)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), stats)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s\n", args[0])
			fmt.Fprintf(w, "  concepts:      %d\n", stats.Concepts)
			fmt.Fprintf(w, "  sources:       %d\n", stats.Sources)
			fmt.Fprintf(w, "  instances:     %d\n", stats.Instances)
			fmt.Fprintf(w, "  relationships: %d\n", stats.Relationships)
			fmt.Fprintf(w, "  documents:     %d\n", stats.Documents)
			if len(stats.EdgeTypes) > 0 {
				fmt.Fprintln(w, "  edge types:")
				for _, typ := range sortedKeys(stats.EdgeTypes) {
					fmt.Fprintf(w, "    %-24s %d\n", typ, stats.EdgeTypes[typ])
				}
			}
			return nil
		},
	}
	return cmd
}

func newOntologyFilesCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files <name>",
		Short: "List the documents ingested into an ontology",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var docs []api.DocumentView
			err := newClient(global).get(cmd.Context(), "/ontology/"+url.PathEscape(args[0])+"/files", &docs)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), docs)
			}

			w := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(w, "no documents")
				return nil
			}
			for _, d := range docs {
				name := d.Filename
				if name == "" {
					name = d.SourceURL
				}
				fmt.Fprintf(w, "%s  %-12s %8d bytes  %s  %s\n",
					d.ID, d.ContentType, d.SizeBytes, d.IngestedAt.Format(time.RFC3339), name)
			}
			return nil
		},
	}
	return cmd
}

func newOntologyRenameCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename an ontology, keeping all its content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view api.OntologyView
			err := newClient(global).post(cmd.Context(),
				"/ontology/"+url.PathEscape(args[0])+"/rename",
				api.RenameOntologyRequest{NewName: args[1]}, &view)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %s (%d concepts, %d documents)\n",
				args[0], view.Name, view.Concepts, view.Documents)
			return nil
		},
	}
	return cmd
}

func newOntologyDeleteCmd(global *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an ontology and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("deleting %q removes all its concepts and documents; re-run with --yes", args[0])
			}

			var deleted api.OntologyDeleted
			err := newClient(global).delete(cmd.Context(), "/ontology/"+url.PathEscape(args[0]), &deleted)
			if err != nil {
				return err
			}
			if global.jsonOut {
				return writeJSON(cmd.OutOrStdout(), deleted)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"deleted %s: %d concepts, %d sources, %d instances, %d relationships, %d documents\n",
				deleted.Name, deleted.Concepts, deleted.Sources,
				deleted.Instances, deleted.Relationships, deleted.Documents)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}

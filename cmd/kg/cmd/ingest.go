package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kgraph/pkg/api"
)

// ingestOptions holds the per-job tuning flags shared by every ingest form.
type ingestOptions struct {
	filename     string
	caption      string
	targetWords  int
	overlapWords int
	processMode  string
	autoApprove  bool
	force        bool
}

func newIngestCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit content for extraction",
		Long: `Submit content to the ingestion queue. Jobs wait for approval unless
--auto-approve is set; re-submitting identical content is refused unless
--force is set.`,
	}

	cmd.AddCommand(newIngestTextCmd(global))
	cmd.AddCommand(newIngestFileCmd(global))
	cmd.AddCommand(newIngestDirectoryCmd(global))
	cmd.AddCommand(newIngestImageCmd(global))
	cmd.AddCommand(newIngestURLCmd(global))
	return cmd
}

func addIngestFlags(cmd *cobra.Command, opts *ingestOptions) {
	cmd.Flags().IntVar(&opts.targetWords, "target-words", 0, "Chunk size in words (server default when 0)")
	cmd.Flags().IntVar(&opts.overlapWords, "overlap-words", 0, "Chunk overlap in words (server default when 0)")
	cmd.Flags().StringVar(&opts.processMode, "process-mode", "", "Chunk processing: serial or parallel")
	cmd.Flags().BoolVar(&opts.autoApprove, "auto-approve", false, "Skip the approval gate")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-ingest even when identical content exists")
}

func newIngestTextCmd(global *globalOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "text <content>",
		Short: "Ingest a text snippet ('-' reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := args[0]
			if content == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(raw)
			}
			var acc api.JobAccepted
			err := newClient(global).post(cmd.Context(), "/ingest/text", api.IngestTextRequest{
				Content:       content,
				Filename:      opts.filename,
				Ontology:      global.ontology,
				TargetWords:   opts.targetWords,
				OverlapWords:  opts.overlapWords,
				ProcessMode:   opts.processMode,
				AutoApprove:   opts.autoApprove,
				ForceReingest: opts.force,
			}, &acc)
			if err != nil {
				return err
			}
			return printAccepted(cmd.OutOrStdout(), global, acc)
		},
	}

	cmd.Flags().StringVar(&opts.filename, "filename", "", "Logical filename recorded on the document")
	addIngestFlags(cmd, &opts)
	return cmd
}

func newIngestFileCmd(global *globalOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Ingest one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := uploadFile(cmd.Context(), global, "/ingest/file", args[0], &opts)
			if err != nil {
				return err
			}
			return printAccepted(cmd.OutOrStdout(), global, acc)
		},
	}

	cmd.Flags().StringVar(&opts.filename, "filename", "", "Override the filename recorded on the document")
	addIngestFlags(cmd, &opts)
	return cmd
}

func newIngestImageCmd(global *globalOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "image <path>",
		Short: "Ingest an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := uploadFile(cmd.Context(), global, "/ingest/image", args[0], &opts)
			if err != nil {
				return err
			}
			return printAccepted(cmd.OutOrStdout(), global, acc)
		},
	}

	cmd.Flags().StringVar(&opts.filename, "filename", "", "Override the filename recorded on the document")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "Caption text indexed alongside the image")
	addIngestFlags(cmd, &opts)
	return cmd
}

func newIngestDirectoryCmd(global *globalOptions) *cobra.Command {
	var opts ingestOptions
	var extensions []string

	cmd := &cobra.Command{
		Use:   "directory <dir>",
		Short: "Ingest every matching file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			allowed := make(map[string]bool, len(extensions))
			for _, e := range extensions {
				allowed["."+strings.TrimPrefix(strings.TrimSpace(e), ".")] = true
			}

			var paths []string
			err := filepath.WalkDir(args[0], func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && allowed[strings.ToLower(filepath.Ext(path))] {
					paths = append(paths, path)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no files matching --ext %s under %s", strings.Join(extensions, ","), args[0])
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range paths {
				acc, err := uploadFile(cmd.Context(), global, "/ingest/file", path, &opts)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s: job %s (%s)\n", path, acc.JobID, acc.Status)
			}
			fmt.Fprintf(out, "submitted %d of %d files\n", len(paths)-failed, len(paths))
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(paths))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&extensions, "ext", []string{"md", "txt"}, "File extensions to ingest")
	addIngestFlags(cmd, &opts)
	return cmd
}

func newIngestURLCmd(global *globalOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "url <url>",
		Short: "Fetch a URL and ingest its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acc api.JobAccepted
			err := newClient(global).post(cmd.Context(), "/ingest/url", api.IngestURLRequest{
				URL:           args[0],
				Ontology:      global.ontology,
				TargetWords:   opts.targetWords,
				OverlapWords:  opts.overlapWords,
				ProcessMode:   opts.processMode,
				AutoApprove:   opts.autoApprove,
				ForceReingest: opts.force,
			}, &acc)
			if err != nil {
				return err
			}
			return printAccepted(cmd.OutOrStdout(), global, acc)
		},
	}

	addIngestFlags(cmd, &opts)
	return cmd
}

func uploadFile(ctx context.Context, global *globalOptions, endpoint, path string, opts *ingestOptions) (api.JobAccepted, error) {
	var acc api.JobAccepted

	data, err := os.ReadFile(path)
	if err != nil {
		return acc, err
	}
	filename := opts.filename
	if filename == "" {
		filename = filepath.Base(path)
	}

	fields := map[string]string{
		"ontology":     global.ontology,
		"filename":     opts.filename,
		"process_mode": opts.processMode,
	}
	if opts.caption != "" {
		fields["caption"] = opts.caption
	}
	if opts.targetWords > 0 {
		fields["target_words"] = strconv.Itoa(opts.targetWords)
	}
	if opts.overlapWords > 0 {
		fields["overlap_words"] = strconv.Itoa(opts.overlapWords)
	}
	if opts.autoApprove {
		fields["auto_approve"] = "true"
	}
	if opts.force {
		fields["force"] = "true"
	}

	err = newClient(global).upload(ctx, endpoint, filename, data, fields, &acc)
	return acc, err
}

func printAccepted(w io.Writer, global *globalOptions, acc api.JobAccepted) error {
	if global.jsonOut {
		return writeJSON(w, acc)
	}
	fmt.Fprintf(w, "job %s  %s  chunks=%d  est=$%.4f\n", acc.JobID, acc.Status, acc.ChunkCount, acc.CostEstimate)
	fmt.Fprintf(w, "  hash: %s\n", acc.ContentHash)
	if acc.Duplicate {
		fmt.Fprintf(w, "  re-ingest of existing content (prior job %s)\n", acc.ExistingJobID)
	}
	if acc.Status == "awaiting_approval" {
		fmt.Fprintf(w, "  approve with: kg job approve %s\n", acc.JobID)
	}
	return nil
}

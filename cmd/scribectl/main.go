// scribectl is the offline companion to the Scriptorium API: it converts
// export-record JSON files to markup documents and flattens typology files
// to their selectable leaf lists, for corpus pipelines that run without a
// server.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scriptorium/api/internal/markup"
	"scriptorium/api/internal/typology"
)

func main() {
	root := &cobra.Command{
		Use:           "scribectl",
		Short:         "Offline tools for Scriptorium corpus files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(renderCommand(), flattenCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scribectl:", err)
		os.Exit(1)
	}
}

func renderCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "render <record.json>",
		Short: "Convert an export record to a markup document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var record markup.ExportRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("parse record: %w", err)
			}

			doc := markup.Document{
				Title:       record.Text.Title,
				Content:     record.Text.Content,
				Language:    record.Text.Language,
				Source:      record.Text.Source,
				Translation: record.Text.Translation,
			}
			spans := make([]markup.Span, 0, len(record.Annotations))
			for _, ann := range record.Annotations {
				spans = append(spans, markup.Span{
					Start:        ann.StartPosition,
					End:          ann.EndPosition,
					Type:         ann.AnnotationType,
					SelectedText: ann.SelectedText,
					Label:        ann.Label,
					Name:         ann.Name,
					Level:        ann.Level,
					Meta:         ann.Meta,
					Confidence:   ann.Confidence,
				})
			}

			segments, err := markup.ToMarkupSegments(doc.Content, spans)
			if err != nil {
				return err
			}
			rendered := markup.RenderDocument(doc, segments)

			if outPath == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), rendered)
				return err
			}
			return os.WriteFile(outPath, []byte(rendered), 0o644)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the document to a file instead of stdout")
	return cmd
}

func flattenCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "flatten <typology.json>",
		Short: "Flatten a typology file to its selectable leaf categories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var upload typology.Typology
			if err := json.Unmarshal(raw, &upload); err != nil {
				return fmt.Errorf("parse typology: %w", err)
			}

			leaves := typology.FlattenLeaves(upload.Categories)

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(leaves)
			}
			for _, leaf := range leaves {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", leaf.ID, leaf.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the leaf list as JSON")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitflow/internal/app"
	"permitflow/internal/domain"
	"permitflow/internal/engine"
)

func docCmd() *cobra.Command {
	d := &cobra.Command{Use: "doc", Short: "Manage permit documents"}
	d.AddCommand(docAddCmd())
	d.AddCommand(docListCmd())
	d.AddCommand(docVerifyCmd())
	d.AddCommand(docLineageCmd())
	d.AddCommand(docGetCmd())
	d.AddCommand(docDeleteCmd())
	return d
}

func renderDocuments(docs []domain.Document) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "File", "Category", "Version", "Required", "Verified", "Bytes"})
	for _, d := range docs {
		tw.AppendRow(table.Row{d.ID, d.FileName, d.Category, d.VersionTag, d.IsRequired, d.IsVerified, d.SizeBytes})
	}
	tw.Render()
}

func docAddCmd() *cobra.Command {
	var in engine.AddDocumentCommand
	var category, name string
	cmd := &cobra.Command{
		Use:   "add <permit-id> <file>",
		Short: "Upload a file as the next version in its bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			in.PermitID = args[0]
			in.FileName = name
			if in.FileName == "" {
				in.FileName = filepath.Base(args[1])
			}
			in.Category = domain.DocumentCategory(category)
			in.Content = content
			in.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.AddDocument(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryOther), "document category")
	cmd.Flags().StringVar(&name, "name", "", "file name to record (defaults to the base name)")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	cmd.Flags().BoolVar(&in.IsRequired, "required", false, "mark as required")
	cmd.Flags().BoolVar(&in.IsNewVersion, "new-version", false, "start or continue a version lineage")
	cmd.Flags().StringVar(&in.ParentDocumentID, "parent", "", "parent document id")
	return cmd
}

func docListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <permit-id>",
		Short: "List permit documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				docs, err := rt.Engine.ListDocuments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				renderDocuments(docs)
				return nil
			})
		},
	}
}

func docVerifyCmd() *cobra.Command {
	var unverify, reject bool
	var notes string
	cmd := &cobra.Command{
		Use:   "verify <document-id>",
		Short: "Mark a document verified (or --unverify, --reject)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, err := rt.Engine.VerifyDocument(ctx, engine.VerifyDocumentCommand{
					DocumentID: args[0],
					IsVerified: !unverify && !reject,
					Rejected:   reject,
					Notes:      optionalString(cmd, "notes", notes),
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().BoolVar(&unverify, "unverify", false, "clear the verified flag")
	cmd.Flags().BoolVar(&reject, "reject", false, "clear the verified flag and mark the document Rejected")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func docLineageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <document-id>",
		Short: "List every revision in a document's version group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				docs, err := rt.Engine.Lineage(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				renderDocuments(docs)
				return nil
			})
		},
	}
}

func docGetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <document-id>",
		Short: "Write a document's bytes to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				d, data, err := rt.Engine.OpenDocument(ctx, args[0])
				if err != nil {
					return err
				}
				dst := out
				if dst == "" {
					dst = d.FileName
				}
				if dst == "-" {
					_, err := os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(dst, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s\n", len(data), dst)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (- for stdout, defaults to the file name)")
	return cmd
}

func docDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteDocument(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted document %s\n", args[0])
				return nil
			})
		},
	}
}

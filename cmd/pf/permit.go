package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitflow/internal/app"
	"permitflow/internal/domain"
	"permitflow/internal/engine"
	"permitflow/internal/repo"
)

func permitCmd() *cobra.Command {
	p := &cobra.Command{Use: "permit", Short: "Manage permits"}
	p.AddCommand(permitCreateCmd())
	p.AddCommand(permitListCmd())
	p.AddCommand(permitShowCmd())
	p.AddCommand(permitStatusCmd())
	p.AddCommand(permitStageCmd())
	p.AddCommand(permitBillingCmd())
	p.AddCommand(permitUpdateCmd())
	p.AddCommand(permitDeleteCmd())
	return p
}

func permitCreateCmd() *cobra.Command {
	var in engine.PermitCreateCommand
	var opened, target string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a permit at intake",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.OpenedDate, err = parseDate(opened); err != nil {
				return err
			}
			if in.TargetIssueDate, err = parseDate(target); err != nil {
				return err
			}
			in.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.CreatePermit(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "permit id (generated when empty)")
	cmd.Flags().StringVar(&in.CustomerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&in.ContractorID, "contractor", "", "contractor id")
	cmd.Flags().StringVar(&in.ProjectName, "project-name", "", "project name")
	cmd.Flags().StringVar(&in.Address, "address", "", "site address")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opened, "opened", "", "opened date (defaults to now)")
	cmd.Flags().StringVar(&target, "target-issue", "", "target issue date")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("project-name")
	return cmd
}

func permitListCmd() *cobra.Command {
	var status string
	var f repo.PermitFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List permits",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.PermitStatus(status)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListPermits(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Customer", "Status", "Stage", "Billing"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.ProjectName, p.CustomerID, p.Status, p.InternalStage, p.BillingStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.CustomerID, "customer", "", "customer filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")
	return cmd
}

func permitShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <permit-id>",
		Short: "Show a permit with its tasks and documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.GetPermit(ctx, args[0])
				if err != nil {
					return err
				}
				tasks, err := rt.Engine.ListTasks(ctx, p.ID)
				if err != nil {
					return err
				}
				docs, err := rt.Engine.ListDocuments(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"permit": p, "tasks": tasks, "documents": docs})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(p.ProjectName)
				tw.AppendRows([]table.Row{
					{"ID", p.ID},
					{"Customer", p.CustomerID},
					{"Contractor", p.ContractorID},
					{"Address", p.Address},
					{"Status", p.Status},
					{"Stage", p.InternalStage},
					{"Billing", p.BillingStatus},
					{"Opened", stringOrEmpty(p.OpenedDate)},
					{"Target issue", stringOrEmpty(p.TargetIssueDate)},
					{"Closed", stringOrEmpty(p.ClosedDate)},
					{"Sent to billing", stringOrEmpty(p.SentToBillingAt)},
				})
				tw.Render()
				if len(tasks) > 0 {
					renderTasks(tasks)
				}
				if len(docs) > 0 {
					renderDocuments(docs)
				}
				return nil
			})
		},
	}
}

func permitStatusCmd() *cobra.Command {
	var stage, note string
	cmd := &cobra.Command{
		Use:   "status <permit-id> <status>",
		Short: "Change permit status (runs automation rules)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.SetStatus(ctx, engine.StatusChangeCommand{
					PermitID: args[0],
					Status:   domain.PermitStatus(args[1]),
					Note:     note,
					ActorID:  actorID(),
				})
				if err != nil {
					return err
				}
				if stage != "" {
					p, err = rt.Engine.SetInternalStage(ctx, engine.StageChangeCommand{
						PermitID: args[0],
						Stage:    domain.InternalStage(stage),
						ActorID:  actorID(),
					})
					if err != nil {
						return err
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "also set the internal stage")
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the change")
	return cmd
}

func permitStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <permit-id> <stage>",
		Short: "Change permit internal stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.SetInternalStage(ctx, engine.StageChangeCommand{
					PermitID: args[0],
					Stage:    domain.InternalStage(args[1]),
					ActorID:  actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func permitBillingCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "billing <permit-id> <billing-status>",
		Short: "Change permit billing status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.SetBillingStatus(ctx, engine.BillingChangeCommand{
					PermitID: args[0],
					Status:   domain.BillingStatus(args[1]),
					Note:     note,
					ActorID:  actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded with the change")
	return cmd
}

func permitUpdateCmd() *cobra.Command {
	var projectName, address, notes, opened, target, closed string
	cmd := &cobra.Command{
		Use:   "update <permit-id>",
		Short: "Update permit fields; pass an empty date to clear it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.PermitFieldsPatch{
				PermitID:    args[0],
				ProjectName: optionalString(cmd, "project-name", projectName),
				Address:     optionalString(cmd, "address", address),
				Notes:       optionalString(cmd, "notes", notes),
			}
			for _, d := range []struct {
				flag  string
				value string
				dst   *engine.DatePatch
			}{
				{"opened", opened, &patch.OpenedDate},
				{"target-issue", target, &patch.TargetIssueDate},
				{"closed", closed, &patch.ClosedDate},
			} {
				if !cmd.Flags().Changed(d.flag) {
					continue
				}
				t, err := parseDate(d.value)
				if err != nil {
					return fmt.Errorf("--%s: %w", d.flag, err)
				}
				*d.dst = engine.DatePatch{Set: true, Value: t}
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				p, err := rt.Engine.UpdateFields(ctx, patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&projectName, "project-name", "", "project name")
	cmd.Flags().StringVar(&address, "address", "", "site address")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opened, "opened", "", "opened date")
	cmd.Flags().StringVar(&target, "target-issue", "", "target issue date")
	cmd.Flags().StringVar(&closed, "closed", "", "closed date")
	return cmd
}

func permitDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <permit-id>",
		Short: "Delete a permit with its tasks, documents and activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeletePermit(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted permit %s\n", args[0])
				return nil
			})
		},
	}
}

func activityCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "activity <permit-id>",
		Short: "Show recent permit activity, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := rt.Engine.GetPermit(ctx, args[0]); err != nil {
					return err
				}
				entries, err := rt.Engine.RecentActivity(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Actor", "Type", "Description"})
				for _, a := range entries {
					tw.AppendRow(table.Row{a.ID, a.CreatedAt, a.ActorID, a.ActivityType, a.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	return cmd
}

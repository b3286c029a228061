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
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage permit tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func renderTasks(tasks []domain.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Assignee", "Due"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Name, t.Status, t.Priority, stringOrEmpty(t.AssigneeID), stringOrEmpty(t.DueDate)})
	}
	tw.Render()
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <permit-id>",
		Short: "List permit tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.ListTasks(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTasks(tasks)
				return nil
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var in engine.TaskCreateCommand
	var status, priority, due string
	cmd := &cobra.Command{
		Use:   "create <permit-id>",
		Short: "Create a manual task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.DueDate, err = parseDate(due); err != nil {
				return err
			}
			in.PermitID = args[0]
			in.Status = domain.TaskStatus(status)
			in.Priority = domain.TaskPriority(priority)
			in.ActorID = actorID()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.CreateTask(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "task name")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (NotStarted)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&in.AssigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var name, description, status, priority, assignee, due string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task; --status Completed stamps completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.TaskUpdateCommand{
				TaskID:      args[0],
				Name:        optionalString(cmd, "name", name),
				Description: optionalString(cmd, "description", description),
				AssigneeID:  optionalString(cmd, "assignee", assignee),
				ActorID:     actorID(),
			}
			if cmd.Flags().Changed("status") {
				s := domain.TaskStatus(status)
				in.Status = &s
			}
			if cmd.Flags().Changed("priority") {
				p := domain.TaskPriority(priority)
				in.Priority = &p
			}
			if cmd.Flags().Changed("due") {
				t, err := parseDate(due)
				if err != nil {
					return err
				}
				in.DueDate = engine.DatePatch{Set: true, Value: t}
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.UpdateTask(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id (empty to unassign)")
	cmd.Flags().StringVar(&due, "due", "", "due date (empty to clear)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.DeleteTask(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

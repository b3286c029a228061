package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitflow/internal/app"
	"permitflow/internal/config"
	"permitflow/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "pf",
	Short: "permitflow CLI",
	Long: `permitflow tracks building permits from intake to close-out.
Core concepts:
- Workspace: a directory holding permitflow.yml and the .permitflow state dir (database and stored files).
- Permit: moves through New -> Submitted -> InReview -> Approved -> Issued -> Inspections -> FinaledClosed, with RevisionsNeeded loops and Canceled as an exit. Internal stage and billing status are tracked alongside.
- Automation: status transitions can spawn tasks; approving a permit always creates one "Send to Billing" task.
- Documents: each upload of the same file name and category gets the next version tag (v1, v2, ...); revisions can be chained into a lineage.
- Activity: every change is written to an append-only audit log, view with 'pf activity <permit>'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PERMITFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded in the activity log")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(permitCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create permitflow.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				fmt.Printf("Database ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing permitflow.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate permitflow.yml or the given file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	})
	return cfgCmd
}

// --- helpers ---

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates. An empty
// string yields nil.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

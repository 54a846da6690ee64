package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hireline/internal/app"
	"hireline/internal/config"
	"hireline/internal/db"
	"hireline/internal/domain"
	"hireline/internal/repo"
	"hireline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Hireline CLI",
	Long: `Hireline runs tasks across a marketplace of paid worker services.
A task is planned into capability steps; for each step the most
efficient worker (reputation squared over price) is hired, paid through
the settlement collaborator, and recorded in an append-only ledger.
Failed workers are replaced by the next alternative; delegated hires
reported by workers land in the ledger one level deeper. Every run is
bounded by a budget that the total of all settlements never exceeds.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HIRELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("requester-id", "local-user", "requester identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("requester-id", rootCmd.PersistentFlags().Lookup("requester-id"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workersCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current requester",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				plaintext := "hk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:          uuid.NewString(),
					RequesterID: viper.GetString("requester-id"),
					Name:        name,
					KeyHash:     repo.HashAPIKey(plaintext),
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := rt.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{
						"id":           key.ID,
						"requester_id": key.RequesterID,
						"name":         key.Name,
						"key":          plaintext,
					})
				}
				fmt.Printf("Created key %s for %s\n", key.ID, key.RequesterID)
				// The plaintext is shown once; only its hash is stored.
				fmt.Println(plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current requester",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				keys, err := rt.Repo.ListAPIKeys(ctx, viper.GetString("requester-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					t.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Run and inspect tasks",
	}
	task.AddCommand(taskRunCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	return task
}

func taskRunCmd() *cobra.Command {
	var budget float64
	cmd := &cobra.Command{
		Use:   "run <task text>",
		Short: "Run a task through the marketplace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskText := strings.Join(args, " ")
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !cmd.Flags().Changed("budget") {
					budget = rt.Config.Service.DefaultBudget
				}
				trace, err := rt.Coordinator.Run(ctx, viper.GetString("requester-id"), taskText, budget)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(trace)
				}
				fmt.Printf("Task %s\n", trace.TaskID)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Capability", "Worker", "Status", "Cost", "Healed"})
				for _, s := range trace.Steps {
					cost := ""
					if s.Settlement != nil {
						cost = strconv.FormatFloat(s.Settlement.Amount, 'f', -1, 64)
					}
					healed := ""
					if s.SelfHealed {
						healed = "from " + s.OriginalWorkerID
					}
					tw.AppendRow(table.Row{s.CapabilityID, s.WorkerID, s.Status, cost, healed})
				}
				tw.Render()
				fmt.Printf("Spent %g of %g (max depth %d)\n", trace.CumulativeCost, trace.BudgetLimit, trace.MaxDepth)
				fmt.Println()
				fmt.Println(trace.Answer)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget limit in units (defaults to config)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				traces, err := rt.Repo.ListTraces(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(traces)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task ID", "Task", "Cost", "Budget", "Depth", "Started"})
				for _, t := range traces {
					tw.AppendRow(table.Row{t.TaskID, truncate(t.Task, 48), t.CumulativeCost, t.BudgetLimit, t.MaxDepth, t.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				trace, err := rt.Repo.GetTrace(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(trace)
			})
		},
	}
	return cmd
}

func workersCmd() *cobra.Command {
	workers := &cobra.Command{
		Use:   "workers",
		Short: "Inspect the worker registry",
	}
	workers.AddCommand(workersListCmd())
	return workers
}

func workersListCmd() *cobra.Command {
	var category string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registry workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				list := rt.Registry.ListActive
				if all {
					list = rt.Registry.List
				}
				entries, err := list(ctx, category)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Price", "Rep", "Efficiency", "Jobs", "Failed", "Earned", "Active"})
				for _, w := range entries {
					tw.AppendRow(table.Row{
						w.ID, w.Name, w.Category, w.PriceUnits, w.Reputation,
						strconv.FormatFloat(w.Efficiency, 'f', 1, 64),
						w.JobsCompleted, w.JobsFailed, w.Earned, w.IsActive,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "capability category filter")
	cmd.Flags().BoolVar(&all, "all", false, "include inactive workers")
	return cmd
}

func ledgerCmd() *cobra.Command {
	led := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the settlement ledger",
	}
	led.AddCommand(ledgerTailCmd())
	return led
}

func ledgerTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest settlement records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				records, err := rt.Ledger.Recent(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Task", "Capability", "Payer", "Worker", "Amount", "Depth", "Healed"})
				for _, rec := range records {
					healed := ""
					if rec.SelfHealed {
						healed = "from " + rec.OriginalWorkerID
					}
					tw.AppendRow(table.Row{
						rec.ID, rec.TS, truncate(rec.TaskID, 8), rec.CapabilityID,
						rec.PayerID, rec.WorkerID, rec.Amount, rec.Depth, healed,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := os.Stat(config.Path(workspace)); err == nil {
				return fmt.Errorf("%s already exists", config.Path(workspace))
			}
			if err := config.Save(workspace, config.Default()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", config.Path(workspace))
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := app.Build(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			authCfg := server.AuthConfig{
				JWTSecret:                  os.Getenv("HIRELINE_JWT_SECRET"),
				AllowLegacyRequesterHeader: rt.Config.Auth.AllowLegacyRequesterHeader,
			}
			if rt.Config.Auth.JWTSecret != "" {
				authCfg.JWTSecret = rt.Config.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyRequesterHeader {
				return fmt.Errorf("HIRELINE_JWT_SECRET is required when legacy header auth is disabled")
			}
			handler, err := server.New(server.Config{
				Coordinator:   rt.Coordinator,
				DefaultBudget: rt.Config.Service.DefaultBudget,
				BasePath:      basePath,
				Auth:          authCfg,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(rt.Ledger, rt.Config.Service.ID, rt.Config.Webhooks)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Hireline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Build(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

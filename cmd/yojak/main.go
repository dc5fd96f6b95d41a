package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"yojak/internal/audit"
	"yojak/internal/config"
	"yojak/internal/discovery"
	"yojak/internal/domain"
	"yojak/internal/engine"
	"yojak/internal/engine/auth"
	"yojak/internal/publisher"
	"yojak/internal/server"
	"yojak/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "yojak",
	Short: "Yojak lifecycle CLI",
	Long: `Yojak tracks contractor scheme requests, support tickets, scheduled
content and discovered tenders as records with validated status
transitions. Records live in a file-backed (or embedded SQLite) store;
every mutation is appended to per-channel audit logs.`,
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
	viper.SetEnvPrefix("YOJAK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// localActor is the acting user for CLI mutations. The CLI runs on the
// operator's box; it is trusted with the full capability set.
func localActor() auth.Actor {
	return auth.Actor{
		ID:           viper.GetString("actor-id"),
		Capabilities: []string{auth.CapRequestsManage, auth.CapContentManage},
	}
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.OpenSQL(cfg.Store.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := store.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logs, err := audit.New(cfg.Logs.Dir)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(st, logs, cfg))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default yojak.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("Yojak")), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func recordCmd() *cobra.Command {
	rec := &cobra.Command{Use: "record", Short: "Manage records"}
	rec.AddCommand(recordListCmd())
	rec.AddCommand(recordShowCmd())
	rec.AddCommand(recordSubmitCmd())
	rec.AddCommand(recordAssignCmd())
	rec.AddCommand(recordResolveCmd())
	return rec
}

func recordListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List records of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				recs, err := e.Store.List(ctx, domain.RecordType(args[0]))
				if err != nil {
					return err
				}
				if status != "" {
					var filtered []domain.Record
					for _, r := range recs {
						if r.Status == domain.Status(status) {
							filtered = append(filtered, r)
						}
					}
					recs = filtered
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assigned", "Updated"})
				for _, r := range recs {
					assigned := ""
					if r.AssignedTo != nil {
						assigned = *r.AssignedTo
					}
					tw.AppendRow(table.Row{r.ID, r.Title, r.Status, assigned, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func recordShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <type> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Store.Get(ctx, domain.RecordType(args[0]), args[1])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
}

func recordSubmitCmd() *cobra.Command {
	var id, title, applicant string
	cmd := &cobra.Command{
		Use:   "submit <type>",
		Short: "Create a record through intake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Submit(ctx, engine.SubmitOptions{
					Type:      domain.RecordType(args[0]),
					ID:        id,
					Title:     title,
					Applicant: applicant,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "record id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "record title")
	cmd.Flags().StringVar(&applicant, "applicant", "", "submitting contractor")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func recordAssignCmd() *cobra.Command {
	var staffID string
	cmd := &cobra.Command{
		Use:   "assign <type> <id>",
		Short: "Assign a record to a staff member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Assign(ctx, domain.RecordType(args[0]), args[1], staffID, localActor())
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}

func recordResolveCmd() *cobra.Command {
	var status, linkedID string
	cmd := &cobra.Command{
		Use:   "resolve <type> <id>",
		Short: "Resolve a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Resolve(ctx, domain.RecordType(args[0]), args[1], domain.Status(status), linkedID, localActor())
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status (in_progress, delivered, rejected, ...)")
	cmd.Flags().StringVar(&linkedID, "linked-id", "", "produced artifact id")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func contentCmd() *cobra.Command {
	content := &cobra.Command{Use: "content", Short: "Manage scheduled content"}
	var publishAt string
	schedule := &cobra.Command{
		Use:   "schedule <type> <id>",
		Short: "Schedule a content record for publication",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := time.Parse(time.RFC3339, publishAt)
			if err != nil {
				return fmt.Errorf("--publish-at must be RFC3339: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Schedule(ctx, domain.RecordType(args[0]), args[1], at, localActor())
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	schedule.Flags().StringVar(&publishAt, "publish-at", "", "publication time (RFC3339)")
	_ = schedule.MarkFlagRequired("publish-at")
	content.AddCommand(schedule)
	return content
}

func cronCmd() *cobra.Command {
	cron := &cobra.Command{Use: "cron", Short: "Run scheduled jobs once"}
	cron.AddCommand(&cobra.Command{
		Use:   "publish",
		Short: "Publish due scheduled content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := publisher.New(e.Store, e.Audit, e.Config)
				summary, err := p.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	})
	cron.AddCommand(&cobra.Command{
		Use:   "tenders",
		Short: "Discover tenders from configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r := discovery.New(e.Store, e.Audit, e.Config)
				summary, err := r.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	})
	return cron
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Inspect audit logs"}
	var n int
	tail := &cobra.Command{
		Use:   "tail <channel>",
		Short: "Tail an audit channel (lifecycle, publish, discovery)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Audit.Tail(args[0], n)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	logc.AddCommand(tail)
	return logc
}

func tokenCmd() *cobra.Command {
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Mint a staff JWT for API access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (or YOJAK_JWT_SECRET) is required")
			}
			token, err := server.MintToken(cfg.Auth.JWTSecret, args[0], capabilities)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&capabilities, "cap", []string{auth.CapRequestsManage}, "capabilities to embed")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			st, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			logs, err := audit.New(cfg.Logs.Dir)
			if err != nil {
				return err
			}
			e := engine.New(st, logs, cfg)
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (or YOJAK_JWT_SECRET) is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:    e,
				Publisher: publisher.New(st, logs, cfg),
				Discovery: discovery.New(st, logs, cfg),
				BasePath:  basePath,
				Auth:      server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Yojak API on http://%s%s\n", addr, basePath)
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

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

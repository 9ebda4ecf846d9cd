package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nickmurray47/goose/internal/agent"
	"github.com/nickmurray47/goose/internal/config"
	"github.com/nickmurray47/goose/internal/sessions"
	"github.com/nickmurray47/goose/pkg/models"
)

// runFlags are the knobs shared by run and resume.
type runFlags struct {
	configPath string
	mode       string
	maxTurns   int
	tracePath  string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "config file path (YAML)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "permission mode: auto, approve, chat, smart_approve")
	cmd.Flags().IntVar(&f.maxTurns, "max-turns", 0, "maximum model turns for this run")
	cmd.Flags().StringVar(&f.tracePath, "trace", "", "write a JSONL event trace to this file")
}

func (f *runFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.mode != "" {
		cfg.Mode = models.PermissionMode(f.mode)
		if !cfg.Mode.Valid() {
			return nil, fmt.Errorf("unknown permission mode %q", f.mode)
		}
	}
	if f.maxTurns > 0 {
		cfg.MaxTurns = f.maxTurns
	}
	if f.tracePath != "" {
		cfg.Trace.Path = f.tracePath
	}
	return cfg, nil
}

func buildRunCmd() *cobra.Command {
	var (
		flags       runFlags
		sessionName string
		recipePath  string
		params      map[string]string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Start a new agent session",
		Long: `Start a new session and drive it to completion. The prompt comes from
the argument, or from a recipe file (--recipe) with {{param}} values
supplied via --param.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			var prompt string
			if len(args) > 0 {
				prompt = args[0]
			}

			var recipe *models.Recipe
			if recipePath != "" {
				recipe, err = loadRecipe(recipePath, params)
				if err != nil {
					return err
				}
				cfg.Extensions = append(cfg.Extensions, recipe.Extensions...)
				if prompt == "" {
					prompt, err = recipe.Render()
					if err != nil {
						return err
					}
				}
			}
			if prompt == "" {
				return fmt.Errorf("a prompt argument or --recipe is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.close(context.Background())

			now := time.Now().UTC()
			sess := &models.Session{
				ID:        uuid.NewString(),
				Name:      sessionName,
				Mode:      cfg.Mode,
				Bindings:  cfg.Routing.Bindings,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if recipe != nil {
				sess.Instructions = recipe.Instructions
				if sess.Name == "" {
					sess.Name = recipe.Title
				}
			}
			if err := eng.store.Create(ctx, sess); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "session %s\n", sess.ID)

			return runSession(ctx, eng, sess, prompt)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&sessionName, "session-name", "n", "", "human-readable session name")
	cmd.Flags().StringVarP(&recipePath, "recipe", "r", "", "recipe file (YAML) seeding the session")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "recipe parameter (key=value, repeatable)")
	return cmd
}

func buildResumeCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "resume <session-id> <prompt>",
		Short: "Resume a stored session with a new prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.close(context.Background())

			sess, err := eng.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if flags.mode != "" {
				sess.Mode = cfg.Mode
			}
			return runSession(ctx, eng, sess, args[1])
		},
	}

	flags.register(cmd)
	return cmd
}

// runSession drives one controller run and maps terminal reasons to exit
// behavior. Cancellation and the turn limit are reported, not treated as
// command failures.
func runSession(ctx context.Context, eng *engine, sess *models.Session, prompt string) error {
	ui := newConsoleUI(os.Stdout, os.Stdin)
	ctrl, cleanup, err := eng.controller(sess, ui)
	if err != nil {
		return err
	}
	defer cleanup()

	reason, err := ctrl.Run(ctx, prompt)
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrTurnLimit):
		fmt.Fprintf(os.Stderr, "stopped after reaching the turn limit; resume with: goose resume %s <prompt>\n", sess.ID)
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(os.Stderr, "cancelled; resume with: goose resume %s <prompt>\n", sess.ID)
	default:
		return err
	}

	fmt.Fprintf(os.Stderr, "done (%s): %d turns, %d tokens\n", reason, len(sess.Turns), sess.Usage.Total())
	return nil
}

func buildPlanCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "plan <prompt>",
		Short: "Ask the planner model for a plan without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.close(context.Background())

			// Planning is out-of-band: the session is never persisted.
			sess := &models.Session{
				ID:       uuid.NewString(),
				Mode:     cfg.Mode,
				Bindings: cfg.Routing.Bindings,
			}
			ctrl, err := agent.NewController(agent.Options{
				Session:   sess,
				Providers: eng.providers,
				Router:    eng.router,
				Logger:    eng.logger,
			})
			if err != nil {
				return err
			}

			plan, err := ctrl.Plan(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(plan)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func buildSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored sessions",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")

	loadCfg := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			store, err := openSessions(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			summaries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			fmt.Printf("%-36s  %-20s  %-13s  %5s  %8s  %s\n", "ID", "NAME", "MODE", "TURNS", "TOKENS", "UPDATED")
			for _, s := range summaries {
				fmt.Printf("%-36s  %-20s  %-13s  %5d  %8d  %s\n",
					s.ID, truncate(s.Name, 20), s.Mode, s.Turns, s.Tokens,
					s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			store, err := openSessions(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a stored session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			store, err := openSessions(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}

	cmd.AddCommand(listCmd, deleteCmd, showCmd)
	return cmd
}

// openSessions opens just the session store, without the rest of the
// engine, for the sessions subcommands.
func openSessions(cfg *config.Config) (sessions.Store, error) {
	return sessions.Open(cfg.Sessions.Backend, cfg.Sessions.Path)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// loadRecipe parses a recipe file and overlays command-line parameters on
// the recipe's own defaults.
func loadRecipe(path string, params map[string]string) (*models.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}
	var recipe models.Recipe
	if err := yaml.Unmarshal(data, &recipe); err != nil {
		return nil, fmt.Errorf("failed to parse recipe: %w", err)
	}
	if recipe.Parameters == nil && len(params) > 0 {
		recipe.Parameters = make(map[string]string, len(params))
	}
	for k, v := range params {
		recipe.Parameters[k] = v
	}
	return &recipe, nil
}

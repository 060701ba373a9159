package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/hellologin/internal/app"
	"github.com/dropDatabas3/hellologin/internal/config"
	"github.com/dropDatabas3/hellologin/internal/infra/pg"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "hellologin",
		Short:         "Login con Hellō (OIDC) para un sitio: flujo de login, eventos y federación",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", envOr("CONFIG_PATH", "config.yaml"), "Archivo YAML de configuración (env CONFIG_PATH)")

	groups := &cobra.Command{Use: "groups", Short: "Grupos federados"}
	groups.AddCommand(newGroupsListCmd(opts))

	root.AddCommand(
		newServeCmd(opts),
		newGCStatesCmd(opts),
		newMigrateCmd(opts),
		newQuickstartURLCmd(opts),
		groups,
	)
	return root
}

// load lee la configuración e inicializa el logger.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	env := "dev"
	if cfg.App.Env == "prod" {
		env = "prod"
	}
	logger.Init(logger.Config{
		Env:         env,
		Level:       cfg.Log.Level,
		ServiceName: "hellologin",
		Version:     app.Version,
		Ring:        logger.NewRing(cfg.Log.Limit),
	})
	return cfg, nil
}

func (o *rootOptions) build(ctx context.Context) (*config.Config, *app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, a, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, a, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer logger.Sync()
			log := logger.L().With(logger.Component("server"))

			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      a.Handler,
				ReadTimeout:  config.Duration(cfg.Server.ReadTimeout),
				WriteTimeout: config.Duration(cfg.Server.WriteTimeout),
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("listening", logger.String("addr", cfg.Server.Addr), logger.String("public_url", cfg.Server.PublicURL))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return a.RunGC(gctx, config.Duration(cfg.Cache.GCInterval))
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout))
				defer cancel()
				log.Info("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

func newGCStatesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc-states",
		Short: "Barre una vez los states vencidos",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.State.GarbageCollect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed=%d\n", n)
			return nil
		},
	}
}

func newGroupsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Imprime las organizaciones y sus grupos como JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			orgs, err := a.Federation.GetOrgsGroups(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(orgs)
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de Postgres (users.dsn)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Users.DSN == "" {
				return errors.New("users.dsn is required")
			}
			v, err := pg.Migrate(cmd.Context(), cfg.Users.DSN)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d\n", v)
			return nil
		},
	}
}

func newQuickstartURLCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quickstart-url",
		Short: "Imprime el URL de quickstart para crear el client_id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := opts.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), a.Login.QuickstartURL())
			return nil
		},
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"permitflow/internal/app"
	"permitflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				authCfg := server.AuthConfig{
					JWTSecret:              jwtSecret(cfg.Server.JWTSecret),
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
					Logger:                 logger,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
					return fmt.Errorf("set server.jwt_secret or PERMITFLOW_JWT_SECRET, or enable server.allow_legacy_actor_header")
				}
				handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Logger: logger})
				if err != nil {
					return err
				}

				hooks := server.NewWebhookDispatcher(rt.Engine.Repo, server.WebhookConfig{
					URLs:         cfg.Webhooks.URLs,
					Secret:       cfg.Webhooks.Secret,
					Events:       cfg.Webhooks.Events,
					PollInterval: cfg.Webhooks.PollInterval,
					Timeout:      cfg.Webhooks.Timeout,
					BatchSize:    cfg.Webhooks.BatchSize,
				}, logger)
				go hooks.Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving permitflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// jwtSecret prefers PERMITFLOW_JWT_SECRET over the config value.
func jwtSecret(fromConfig string) string {
	if s := strings.TrimSpace(viper.GetString("jwt-secret")); s != "" {
		return s
	}
	return fromConfig
}

func tokenCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				token, err := server.SignToken(jwtSecret(rt.Config.Server.JWTSecret), actorID(), name)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/verkada"
	"github.com/atvirokodosprendimai/keybox/internal/app"
	"github.com/atvirokodosprendimai/keybox/internal/core/usecase"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cmd := &cli.Command{
		Name:  "keybox",
		Usage: "Key custody ledger driven by access-control AUX webhooks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./keybox.sqlite",
				Sources: cli.EnvVars("KEYBOX_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "access-api-url",
				Value:   verkada.DefaultBaseURL,
				Sources: cli.EnvVars("KEYBOX_ACCESS_API_URL"),
				Usage:   "Access provider API base URL",
			},
			&cli.StringFlag{
				Name:    "access-api-key",
				Sources: cli.EnvVars("KEYBOX_ACCESS_API_KEY"),
				Usage:   "Access provider API key used to issue tokens",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("KEYBOX_LOG_LEVEL"),
				Usage:   "Log level: debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			refreshTokenCommand(),
			apiKeyCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("keybox failed", "error", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook receiver and read API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("KEYBOX_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("KEYBOX_WEBHOOK_SECRET"),
				Usage:   "Shared secret for inbound webhook signatures",
			},
			&cli.BoolFlag{
				Name:    "allow-unsigned",
				Sources: cli.EnvVars("KEYBOX_ALLOW_UNSIGNED"),
				Usage:   "Accept deliveries without a signature header (non-production only)",
			},
			&cli.StringFlag{
				Name:    "controller-id",
				Sources: cli.EnvVars("KEYBOX_CONTROLLER_ID"),
				Usage:   "Access controller whose badge events identify key users",
			},
			&cli.StringFlag{
				Name:    "camera-id",
				Sources: cli.EnvVars("KEYBOX_CAMERA_ID"),
				Usage:   "Camera that films the key box; empty disables snapshots",
			},
			&cli.StringFlag{
				Name:    "keymap",
				Sources: cli.EnvVars("KEYBOX_KEYMAP"),
				Usage:   `JSON object mapping AUX device ids to key numbers, e.g. {"aux-1":1}`,
			},
			&cli.StringFlag{
				Name:    "keymap-file",
				Sources: cli.EnvVars("KEYBOX_KEYMAP_FILE"),
				Usage:   "YAML or JSON file mapping AUX device ids to key numbers",
			},
			&cli.DurationFlag{
				Name:    "resolve-delay",
				Value:   usecase.DefaultResolveDelay,
				Sources: cli.EnvVars("KEYBOX_RESOLVE_DELAY"),
				Usage:   "Wait before searching the badge feed",
			},
			&cli.StringFlag{
				Name:    "bootstrap-api-key",
				Sources: cli.EnvVars("KEYBOX_BOOTSTRAP_API_KEY"),
				Usage:   "Optional read API key to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-key-name",
				Value:   "bootstrap",
				Sources: cli.EnvVars("KEYBOX_BOOTSTRAP_KEY_NAME"),
				Usage:   "Name for bootstrap API key",
			},
			&cli.StringFlag{
				Name:    "events-webhook-url",
				Sources: cli.EnvVars("KEYBOX_EVENTS_WEBHOOK_URL"),
				Usage:   "Target URL for key.taken / key.returned notifications",
			},
			&cli.StringFlag{
				Name:    "events-webhook-secret",
				Sources: cli.EnvVars("KEYBOX_EVENTS_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound notifications",
			},
			&cli.DurationFlag{
				Name:    "token-refresh-interval",
				Value:   20 * time.Minute,
				Sources: cli.EnvVars("KEYBOX_TOKEN_REFRESH_INTERVAL"),
				Usage:   "Proactive access token refresh interval; 0 disables the background refresher",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := newLogger(c.String("log-level"))
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			keymap, err := app.LoadKeymap(c.String("keymap"), c.String("keymap-file"))
			if err != nil {
				return err
			}

			cfg := app.Config{
				Addr:                 c.String("addr"),
				DBPath:               c.String("db-path"),
				AccessAPIURL:         c.String("access-api-url"),
				AccessAPIKey:         c.String("access-api-key"),
				ControllerID:         c.String("controller-id"),
				CameraID:             c.String("camera-id"),
				WebhookSecret:        c.String("webhook-secret"),
				AllowUnsigned:        c.Bool("allow-unsigned"),
				Keymap:               keymap,
				ResolveDelay:         c.Duration("resolve-delay"),
				BootstrapAPIKey:      c.String("bootstrap-api-key"),
				BootstrapKeyName:     c.String("bootstrap-key-name"),
				EventsWebhookURL:     c.String("events-webhook-url"),
				EventsWebhookSecret:  c.String("events-webhook-secret"),
				TokenRefreshInterval: c.Duration("token-refresh-interval"),
				Logger:               logger,
			}

			server, closer, err := app.NewServer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					logger.Error("close resources", "error", closeErr)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.Addr)
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				logger.Info("received signal", "signal", sig.String())
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func refreshTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh-token",
		Usage: "Issue and store a fresh access token, then exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := newLogger(c.String("log-level"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			cred, err := app.RefreshToken(ctx, app.Config{
				DBPath:       c.String("db-path"),
				AccessAPIURL: c.String("access-api-url"),
				AccessAPIKey: c.String("access-api-key"),
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"success":    true,
				"expires_at": cred.ExpiresAt.UTC().Format(time.RFC3339),
			})
		},
	}
}

func apiKeyCommand() *cli.Command {
	nameFlag := &cli.StringFlag{
		Name:     "name",
		Usage:    "Key name, e.g. the dashboard it is handed to",
		Required: true,
	}
	return &cli.Command{
		Name:  "api-key",
		Usage: "Manage read API keys",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Issue a new read API key and print it once",
				Flags: []cli.Flag{nameFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					token, err := app.IssueAPIKey(ctx, c.String("db-path"), c.String("name"))
					if err != nil {
						return err
					}
					return json.NewEncoder(os.Stdout).Encode(map[string]any{
						"name":    c.String("name"),
						"api_key": token,
					})
				},
			},
			{
				Name:  "revoke",
				Usage: "Deactivate every read API key with the given name",
				Flags: []cli.Flag{nameFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					n, err := app.RevokeAPIKey(ctx, c.String("db-path"), c.String("name"))
					if err != nil {
						return err
					}
					return json.NewEncoder(os.Stdout).Encode(map[string]any{
						"name":    c.String("name"),
						"revoked": n,
					})
				},
			},
		},
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/keybox/internal/adapters/events"
	"github.com/atvirokodosprendimai/keybox/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/keybox/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/keybox/internal/adapters/verkada"
	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
	"github.com/atvirokodosprendimai/keybox/internal/core/usecase"
	"github.com/atvirokodosprendimai/keybox/migrations"
)

type Config struct {
	Addr   string
	DBPath string

	AccessAPIURL string
	AccessAPIKey string
	ControllerID string
	CameraID     string

	WebhookSecret string
	AllowUnsigned bool
	Keymap        map[string]int
	ResolveDelay  time.Duration

	BootstrapAPIKey  string
	BootstrapKeyName string

	EventsWebhookURL    string
	EventsWebhookSecret string

	TokenRefreshInterval time.Duration

	Logger *slog.Logger
}

func (c Config) validate() error {
	var problems []string
	if strings.TrimSpace(c.AccessAPIKey) == "" {
		problems = append(problems, "access api key is required")
	}
	if strings.TrimSpace(c.ControllerID) == "" {
		problems = append(problems, "controller id is required")
	}
	if c.WebhookSecret == "" && !c.AllowUnsigned {
		problems = append(problems, "webhook secret is required unless unsigned deliveries are allowed")
	}
	if len(c.Keymap) == 0 {
		problems = append(problems, "keymap has no entries")
	}
	for device, key := range c.Keymap {
		if key <= 0 {
			problems = append(problems, fmt.Sprintf("keymap entry %q has non-positive key number %d", device, key))
		}
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDatabase(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}

	keyRepo := sqliteadapter.NewKeyRepository(db)
	ledgerRepo := sqliteadapter.NewLedgerRepository(db)
	eventLogRepo := sqliteadapter.NewEventLogRepository(db)
	deliveryRepo := sqliteadapter.NewDeliveryRepository(db)
	credentialRepo := sqliteadapter.NewCredentialRepository(db)
	apiKeyRepo := sqliteadapter.NewAPIKeyRepository(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)
	transitions := sqliteadapter.NewTransitionStore(db)

	provider, err := verkada.NewClient(verkada.Config{
		BaseURL: cfg.AccessAPIURL,
		APIKey:  cfg.AccessAPIKey,
		Logger:  logger.With("component", "verkada"),
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	tokens := usecase.NewTokenCache(provider, credentialRepo, logger.With("component", "token_cache"))
	resolver := usecase.NewIdentityResolver(provider, tokens, ledgerRepo, usecase.IdentityResolverConfig{
		ControllerID: cfg.ControllerID,
		Delay:        cfg.ResolveDelay,
	}, logger.With("component", "identity"))
	enricher := usecase.NewEnricher(provider, tokens, cfg.CameraID, logger.With("component", "enrichment"))
	reconciler := usecase.NewReconciler(usecase.ReconcilerStores{
		Deliveries:  deliveryRepo,
		Keys:        keyRepo,
		Ledger:      ledgerRepo,
		Transitions: transitions,
	}, resolver, enricher, cfg.Keymap, usecase.NewDebouncePolicy(usecase.DefaultBounceWindow), logger.With("component", "reconciler"))

	decoder, err := usecase.NewPayloadDecoder()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	verifier := usecase.NewSignatureVerifier(cfg.WebhookSecret, cfg.AllowUnsigned, logger.With("component", "signature"))
	ledgerService := usecase.NewLedgerService(keyRepo, ledgerRepo, eventLogRepo)
	authService := usecase.NewAuthService(apiKeyRepo)

	if cfg.BootstrapAPIKey != "" {
		if err := bootstrapAPIKey(authService, cfg.BootstrapAPIKey, cfg.BootstrapKeyName); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	var publisher ports.EventPublisher = events.NewLogPublisher(logger.With("component", "outbox"))
	if cfg.EventsWebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.EventsWebhookURL, cfg.EventsWebhookSecret, 0)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, logger.With("component", "outbox"), 2*time.Second, 100)
	dispatcher.Start(context.Background())

	closers := []io.Closer{dispatcher}
	if cfg.TokenRefreshInterval > 0 {
		refresher := usecase.NewTokenRefresher(tokens, credentialRepo, deliveryRepo, logger.With("component", "token_refresher"), cfg.TokenRefreshInterval)
		refresher.Start(context.Background())
		closers = append(closers, refresher)
	}
	closers = append(closers, db)

	handler := httpapi.NewHandler(verifier, decoder, reconciler, ledgerService, authService, logger.With("component", "http"))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("keybox configured",
		"keys", len(cfg.Keymap),
		"controller_id", cfg.ControllerID,
		"camera_configured", cfg.CameraID != "",
		"allow_unsigned", cfg.AllowUnsigned,
		"events_webhook", cfg.EventsWebhookURL != "",
	)

	return server, resourceCloser{closers: closers}, nil
}

// RefreshToken issues one access token, persists it and prunes expired
// ones. It backs the refresh-token command for deployments that schedule
// the refresh externally.
func RefreshToken(ctx context.Context, cfg Config) (domain.Credential, error) {
	if strings.TrimSpace(cfg.AccessAPIKey) == "" {
		return domain.Credential{}, errors.New("invalid config: access api key is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDatabase(ctx, cfg.DBPath, logger)
	if err != nil {
		return domain.Credential{}, err
	}
	defer db.Close()

	provider, err := verkada.NewClient(verkada.Config{BaseURL: cfg.AccessAPIURL, APIKey: cfg.AccessAPIKey, Logger: logger})
	if err != nil {
		return domain.Credential{}, err
	}

	credentials := sqliteadapter.NewCredentialRepository(db)
	cache := usecase.NewTokenCache(provider, credentials, logger)
	cred, err := cache.Refresh(ctx)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("refresh access token: %w", err)
	}
	if n, err := credentials.PruneExpired(ctx, time.Now().UTC()); err != nil {
		logger.Warn("prune expired tokens", "error", err)
	} else if n > 0 {
		logger.Debug("pruned expired tokens", "count", n)
	}
	return cred, nil
}

func openDatabase(ctx context.Context, path string, logger *slog.Logger) (*gormsqlite.DB, error) {
	db, err := gormsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(ctx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, err
	}
	if version, err := migrations.Version(ctx, writeSQLDB); err == nil {
		logger.Debug("database ready", "path", path, "schema_version", version)
	}
	return db, nil
}

func bootstrapAPIKey(auth *usecase.AuthService, token, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := auth.Register(ctx, name, token); err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}
	return nil
}

// IssueAPIKey creates a read API key named name and returns its plain
// value, which is not stored anywhere.
func IssueAPIKey(ctx context.Context, dbPath, name string) (string, error) {
	db, err := openDatabase(ctx, dbPath, slog.Default())
	if err != nil {
		return "", err
	}
	defer db.Close()

	token, err := usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(db)).Issue(ctx, name)
	if err != nil {
		return "", fmt.Errorf("issue api key: %w", err)
	}
	return token, nil
}

// RevokeAPIKey deactivates every read API key named name.
func RevokeAPIKey(ctx context.Context, dbPath, name string) (int64, error) {
	db, err := openDatabase(ctx, dbPath, slog.Default())
	if err != nil {
		return 0, err
	}
	defer db.Close()

	n, err := usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(db)).Revoke(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("revoke api key %q: %w", name, err)
	}
	return n, nil
}

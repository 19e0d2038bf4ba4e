// Command tdk-mediator runs the DIDComm mediator service of spec §4.6:
// the inbound pipeline, protocol handlers, and HTTP/WebSocket front end
// of internal/mediator/server, wired to a SQLite-backed store.
//
// Structured as a single cobra root command, in the shape of the
// teacher's cli/cmd/root.go (flags plus a single RunE that builds the
// dependencies and runs the service in run), with the teacher's
// runtime/server/cmd/main.go goroutine-serve-then-signal-wait shutdown
// lifecycle generalized from gRPC's GracefulStop to http.Server.Shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/affinidi-community/tdk-core/internal/config"
	"github.com/affinidi-community/tdk-core/internal/diddoc"
	"github.com/affinidi-community/tdk-core/internal/didcache"
	"github.com/affinidi-community/tdk-core/internal/didcomm"
	"github.com/affinidi-community/tdk-core/internal/mediator/auth"
	"github.com/affinidi-community/tdk-core/internal/mediator/authz"
	"github.com/affinidi-community/tdk-core/internal/mediator/handlers"
	"github.com/affinidi-community/tdk-core/internal/mediator/ratelimit"
	"github.com/affinidi-community/tdk-core/internal/mediator/server"
	"github.com/affinidi-community/tdk-core/internal/mediator/store"
	"github.com/affinidi-community/tdk-core/internal/mediator/store/gormstore"
	"github.com/affinidi-community/tdk-core/internal/mediator/stream"
	"github.com/affinidi-community/tdk-core/internal/obslog"
	"github.com/affinidi-community/tdk-core/internal/resolver"
	"github.com/affinidi-community/tdk-core/internal/secrets"
)

var logger = obslog.Logger("tdk-mediator")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		mediatorDID string
		dbPath      string
	)

	cmd := &cobra.Command{
		Use:   "tdk-mediator",
		Short: "DIDComm mediator service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, mediatorDID, dbPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the mediator TOML config file")
	cmd.Flags().StringVar(&mediatorDID, "mediator-did", "", "the mediator's own DID (required)")
	cmd.Flags().StringVar(&dbPath, "db", "tdk-mediator.sqlite", "path to the SQLite database file")

	_ = cmd.MarkFlagRequired("mediator-did")

	return cmd
}

func run(ctx context.Context, configPath, mediatorDID, dbPath string) error {
	cfg, err := config.LoadMediatorConfig(configPath)
	if err != nil {
		return fmt.Errorf("tdk-mediator: load config: %w", err)
	}

	logger.Info("============================================================")
	logger.Info("DIDComm Mediator")
	logger.Info("configuration loaded", "listen_address", cfg.ListenAddress, "db", dbPath)
	logger.Info("============================================================")

	st, err := gormstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("tdk-mediator: open store: %w", err)
	}

	az, err := authz.New()
	if err != nil {
		return fmt.Errorf("tdk-mediator: build authorizer: %w", err)
	}

	if err := az.GrantRole(store.HashDID(mediatorDID), authz.RoleRootAdmin); err != nil {
		return fmt.Errorf("tdk-mediator: seed root admin: %w", err)
	}

	if _, err := st.GetAccount(ctx, store.HashDID(mediatorDID)); err != nil {
		rootAccount := &store.Account{
			DIDHash:     store.HashDID(mediatorDID),
			AccountType: store.AccountRootAdmin,
			ACLMode:     store.ACLExplicitDeny,
		}

		if err := st.UpsertAccount(ctx, rootAccount); err != nil {
			return fmt.Errorf("tdk-mediator: seed root account: %w", err)
		}
	}

	cache := didcache.New(didcache.Options{
		CapacityCount: cfg.Cache.CapacityCount,
		Expire:        time.Duration(cfg.Cache.Expire) * time.Second,
		MaxDIDLength:  2048,
		MaxParts:      15,
	}, resolver.NewComposite())

	engine := &didcomm.Engine{
		Resolver:                   cachedResolver{cache: cache},
		Secrets:                    secrets.NewThreadedResolver(),
		ToKidsPerRecipientLimit:    cfg.Limits.ToKeysPerRecipient,
		CryptoOperationsPerMessage: cfg.Limits.CryptoOperationsPerMessage,
	}

	bus := stream.New()

	policy := handlers.Policy{
		BlockAnonymousOuterEnvelope: cfg.Security.BlockAnonymousOuterEnvelope,
		ForceSessionDIDMatch:        cfg.Security.ForceSessionDIDMatch,
		LocalDirectDeliveryAllowed:  cfg.Security.LocalDirectDeliveryAllowed,
		AdminMessagesExpiry:         int64(cfg.Security.AdminMessagesExpiry),
		BlockRemoteAdminMsgs:        cfg.Security.BlockRemoteAdminMsgs,
		MessageExpirySecondsCap:     int64(cfg.Limits.MessageExpirySeconds),
		OOBInviteTTL:                int64(cfg.Limits.OOBInviteTTL),
		BlockedForwarding:           blockedForwardingSet(cfg.Processors.Forwarding.BlockedForwarding),
	}

	pipeline := handlers.NewPipeline(mediatorDID, engine, st, az, bus, policy)

	handshake := auth.New(mediatorDID, engine, st)

	rl := ratelimit.New(ratelimit.Config{Enabled: false})

	srv := server.New(pipeline, st, handshake, handshake, rl, cfg)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrs := make(chan error, 1)

	go func() {
		logger.Info("http server listening", "address", cfg.ListenAddress)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrs:
		return fmt.Errorf("tdk-mediator: server error: %w", err)
	case <-sigCh:
		logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("tdk-mediator: graceful shutdown: %w", err)
	}

	return nil
}

// cachedResolver adapts *didcache.Cache's string-keyed Resolve to the
// didcomm.DocumentResolver shape the engine expects.
type cachedResolver struct {
	cache *didcache.Cache
}

func (r cachedResolver) ResolveDocument(ctx context.Context, did string) (*diddoc.Document, error) {
	result, err := r.cache.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}

	return result.Document, nil
}

func blockedForwardingSet(dids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(dids))
	for _, did := range dids {
		set[store.HashDID(did)] = struct{}{}
	}

	return set
}

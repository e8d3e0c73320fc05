package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/api"
	"github.com/vdavid/mailfolders/internal/auth"
	"github.com/vdavid/mailfolders/internal/config"
	"github.com/vdavid/mailfolders/internal/crypto"
	"github.com/vdavid/mailfolders/internal/db"
	"github.com/vdavid/mailfolders/internal/foldercache"
	"github.com/vdavid/mailfolders/internal/imap"
	ws "github.com/vdavid/mailfolders/internal/websocket"
)

const (
	// maxConnectionsPerPeer bounds the event stream connections a single peer node may hold.
	maxConnectionsPerPeer = 4
	// eventBuffer is how many outgoing invalidation events may queue before new ones are dropped.
	eventBuffer = 256

	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	cfg.ApplyLogLevel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.CloseConnection(pool)

	logrus.Info("Successfully connected to database")

	handler, shutdown, err := NewServer(ctx, cfg, pool)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create server")
	}
	defer shutdown()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Server shutdown did not complete cleanly")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"address":     srv.Addr,
		"environment": cfg.Environment,
	}).Info("Folder cache server starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("Server failed")
	}
	logrus.Info("Server stopped")
}

// NewServer wires the folder cache and returns the HTTP handler of the API server together
// with a function that releases everything it started. Peer subscriptions live until ctx ends
// or the returned function is called.
func NewServer(ctx context.Context, cfg *config.Config, dbPool *pgxpool.Pool) (http.Handler, func(), error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	imapPool := imap.NewPoolWithMaxWorkers(cfg.IMAPMaxWorkers)
	connector := imap.NewConnector(imapPool, db.NewAccountStore(dbPool), encryptor)

	hub := ws.NewHub(maxConnectionsPerPeer)
	broadcaster := foldercache.NewAsyncBroadcaster(hub.Publish, eventBuffer)

	nodeID := foldercache.NewNodeID()
	registry := foldercache.NewRegistry(connector, broadcaster, foldercache.RegistryConfig{
		Enabled:             cfg.FolderCacheEnabled,
		Timeout:             cfg.FolderCacheTimeout,
		UserTTL:             cfg.UserCacheTTL,
		IgnoreSubscriptions: cfg.IgnoreSubscriptions,
		UnsubscribeOrphans:  cfg.UnsubscribeOrphans,
		SpecialUse:          cfg.SpecialUseEnabled,
		NodeID:              nodeID,
	})

	subscriber := ws.NewSubscriber(cfg.InvalidationPeers, nodeID, cfg.InvalidationToken, func(ev foldercache.Event) {
		registry.HandleInvalidation(ev)
	})
	subscriber.Start(ctx)

	logrus.WithFields(logrus.Fields{
		"node":  nodeID,
		"peers": len(cfg.InvalidationPeers),
	}).Info("Folder cache ready")

	foldersHandler := api.NewFoldersHandler(dbPool, registry)
	eventsHandler := api.NewCacheEventsHandler(hub, cfg.InvalidationToken)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/api/v1/folders", auth.RequireAuth(http.HandlerFunc(foldersHandler.GetFolders)))
	mux.Handle("/api/v1/folders/entry", auth.RequireAuth(http.HandlerFunc(foldersHandler.GetEntry)))
	mux.Handle("/api/v1/folders/subscribed", auth.RequireAuth(http.HandlerFunc(foldersHandler.GetSubscribed)))
	mux.Handle("/api/v1/folders/special-use", auth.RequireAuth(http.HandlerFunc(foldersHandler.GetSpecialUse)))
	mux.Handle("/api/v1/folders/refresh", auth.RequireAuth(http.HandlerFunc(foldersHandler.PostRefresh)))
	mux.Handle("/api/v1/folders/drop", auth.RequireAuth(http.HandlerFunc(foldersHandler.PostDrop)))
	// Peers authenticate with the shared token themselves.
	mux.Handle("/api/v1/cache/events", http.HandlerFunc(eventsHandler.Handle))

	shutdown := func() {
		subscriber.Close()
		registry.Close()
		broadcaster.Close()
		hub.Close()
		imapPool.Close()
	}

	return mux, shutdown, nil
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Folder cache API is running")
}

package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/servihub/chatd/internal/auth"
	"github.com/servihub/chatd/internal/bus"
	"github.com/servihub/chatd/internal/notify"
	"github.com/servihub/chatd/internal/presence"
	"github.com/servihub/chatd/internal/ratelimit"
	"github.com/servihub/chatd/internal/router"
	"github.com/servihub/chatd/internal/server/middleware"
	"github.com/servihub/chatd/internal/store"
	"github.com/servihub/chatd/pkg/config"
	"github.com/servihub/chatd/pkg/state"
	"github.com/servihub/chatd/pkg/state/statemanager"
	"github.com/servihub/chatd/pkg/transport"
)

type App struct {
	logger      *slog.Logger
	registry    state.Manager
	tracker     *presence.Tracker
	eventRouter *router.EventRouter
	authSvc     *auth.Service
	store       store.Store
	bus         bus.Bus
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

// NewApp wires the application. The store, bus and counter store are
// constructed by the caller and injected, so tests and single-process
// deployments can substitute in-memory variants.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st store.Store, eventBus bus.Bus, counters ratelimit.CounterStore) *App {
	registry := statemanager.NewInMemoryManager(logger)
	tracker := presence.NewTracker(registry, logger)
	limiter := ratelimit.New(ratelimit.Config{
		Window:    cfg.RateLimit.Window,
		MaxEvents: cfg.RateLimit.MaxEvents,
	}, counters, logger)
	notifier := notify.NewLogNotifier(logger)
	eventRouter := router.NewEventRouter(logger, registry, limiter, st, eventBus, notifier)
	authSvc := auth.NewService(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.TokenTTL)

	app := &App{
		logger:      logger,
		registry:    registry,
		tracker:     tracker,
		eventRouter: eventRouter,
		authSvc:     authSvc,
		store:       st,
		bus:         eventBus,
		config:      cfg,
		ctx:         rootCtx,
	}

	mux := http.NewServeMux()

	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	connCounter := registry.ConnectionCount
	// Cycler closes the oldest connection of an over-limit identity.
	connCycler := func(userID string) {
		oldest, found := registry.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(transport.ErrConnectionCycle)
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, authSvc.Verify),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	app.registerRoutes(mux)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	// The bus subscriber relays remote conversation events into local
	// fan-out for the lifetime of the process.
	go func() {
		if err := a.bus.Run(a.ctx, a.eventRouter.DeliverRemote); err != nil {
			a.logger.Error("Bus subscriber stopped", slog.Any("error", err))
		}
	}()

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)

	stateConn, err := a.registry.Register(conn, reqMeta.IP, reqMeta.UserID, reqMeta.UserName)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(a.eventRouter.HandleFrame)
	conn.SetOnCloseHandler(func(id uuid.UUID, closeErr error) {
		// Registry and presence cleanup must fully complete here, so no
		// later snapshot can see a stale entry.
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		if dErr := a.registry.Deregister(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
		a.tracker.OnUnregister(reqMeta.UserID, id)
	})

	// Presence: possibly flip the identity online, then hand the newcomer
	// the full local snapshot so it does not wait for future transitions.
	a.tracker.OnRegister(reqMeta.UserID, stateConn.ID)
	a.tracker.SendSnapshot(conn)

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.registry.AllConnections() {
		conn.Close(transport.ErrServerShutdown)
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

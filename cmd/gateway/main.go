// Command gateway runs the multi-tenant conductor gateway: it terminates
// client admin and app WebSocket connections, authenticates and authorizes
// callers, and routes their requests to the conductor pool assigned to
// their agent identity.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/api"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/auth"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/conductor"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/config"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/custodial"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/httpapi"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/kernel"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/observability"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/proxy"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/signing"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := "postgres"
	if cfg.DevMode {
		driver = "sqlite"
	}
	dsn := cfg.DatabaseURL
	if cfg.DevMode {
		dsn = "file:gateway-dev.db?cache=shared"
	}
	db, err := store.Open(driver, dsn)
	if err != nil {
		log.Error("failed to open database", "err", err)
		return 1
	}
	defer db.Close()

	userStore := store.NewUserStore(db)
	if err := userStore.Init(ctx); err != nil {
		log.Error("failed to initialize user store schema", "err", err)
		return 1
	}
	assignmentStore := store.NewAssignmentStore(db)
	if err := assignmentStore.Init(ctx); err != nil {
		log.Error("failed to initialize assignment store schema", "err", err)
		return 1
	}

	obs, err := observability.New(ctx, observability.DefaultConfig())
	if err != nil {
		log.Error("failed to initialize observability", "err", err)
		return 1
	}
	defer obs.Shutdown(context.Background())

	registry := conductor.NewRegistry(assignmentStore)
	pool := conductor.NewPool(ctx, conductor.PoolConfig{
		ConductorID: conductor.ConductorID("default"),
		Endpoint:    cfg.ConductorURL,
		WorkerCount: cfg.WorkerCount,
		QueueDepth:  256,
		DialTimeout: 5 * time.Second,
	}, log)
	defer pool.Close()
	router := conductor.NewRouter(registry, pool, log)

	appEndpoint, err := deriveAppEndpoint(cfg.ConductorURL, cfg.AppPortMin)
	if err != nil {
		log.Error("failed to derive app interface endpoint from CONDUCTOR_URL", "err", err)
		return 1
	}
	registry.RegisterConductor(conductor.ConductorInfo{
		ConductorID:   conductor.ConductorID("default"),
		AdminEndpoint: cfg.ConductorURL,
		AppEndpoint:   appEndpoint,
		CapacityMax:   cfg.WorkerCount,
	})

	signingCache := custodial.NewSigningKeyCache(1024)
	custodialSvc := custodial.NewService(userStore.AsCustodialStore(), signingCache, cfg.Listen, time.Hour)

	tokens, err := auth.NewTokenService([]byte(cfg.JWTSecret), time.Duration(cfg.JWTExpirySeconds)*time.Second)
	if err != nil {
		log.Error("failed to initialize token service", "err", err)
		return 1
	}
	apiKeys := auth.NewAPIKeyValidator(cfg.APIKeyAuthenticated, cfg.APIKeyAdmin)
	hasher := auth.NewPasswordHasher()

	var signingLimiter kernel.LimiterStore
	if !cfg.DevMode {
		signingLimiter = kernel.NewInMemoryLimiterStore()
	}
	signingPolicy := kernel.BackpressurePolicy{RPM: 120, Burst: 10}
	signingSvc := signing.NewService(signingCache, router, signingLimiter, signingPolicy,
		30*time.Second, time.Duration(cfg.RequestTimeoutMS)*time.Millisecond, log)

	var loginLimiter kernel.LimiterStore
	if !cfg.DevMode {
		loginLimiter = kernel.NewInMemoryLimiterStore()
	}
	loginPolicy := kernel.BackpressurePolicy{RPM: 10, Burst: 5}
	loginRateLimit := auth.RateLimitMiddleware(loginLimiter, loginPolicy)

	authHandlers := httpapi.NewAuthHandlers(userStore, custodialSvc, tokens, hasher, log)
	healthHandlers := httpapi.NewHealthHandlers(router)
	signingHandlers := httpapi.NewSigningHandlers(signingSvc, log)
	adminProxy := proxy.NewAdminProxy(router, time.Duration(cfg.RequestTimeoutMS)*time.Millisecond, log, obs)
	appProxy := proxy.NewAppProxy(log)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", loginRateLimit(http.HandlerFunc(authHandlers.Register)))
	mux.Handle("POST /auth/login", loginRateLimit(http.HandlerFunc(authHandlers.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandlers.Refresh)
	mux.HandleFunc("GET /auth/me", authHandlers.Me)
	mux.HandleFunc("POST /sign", signingHandlers.Sign)
	mux.HandleFunc("GET /health", healthHandlers.Health)
	mux.HandleFunc("GET /ready", healthHandlers.Ready)
	mux.HandleFunc("/ws/admin", adminWebSocketHandler(adminProxy, cfg.DevMode, log))
	mux.HandleFunc("/ws/app", appWebSocketHandler(appProxy, router, cfg.DevMode, log))

	handler := auth.NewMiddleware(tokens, apiKeys)(mux)
	handler = api.NewGlobalRateLimiter(20, 40).Middleware(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		<-sigCh
		log.Info("gateway: shutting down")
		cancel()
		_ = server.Close()
	}()

	log.Info("gateway: listening", "addr", cfg.Listen, "conductor_url", cfg.ConductorURL, "dev_mode", cfg.DevMode)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("gateway: listen failed", "err", err)
		return 1
	}
	return 0
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// adminWebSocketHandler upgrades every caller regardless of credentials;
// the session's resolved tier (Public if no credentials were presented)
// is carried into AdminProxy, which authorizes each frame individually
// against the Permission Catalog. Rejecting the upgrade itself would deny
// Public-tier operations to anonymous callers, which the catalog permits.
func adminWebSocketHandler(p *proxy.AdminProxy, devMode bool, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := auth.GetPrincipal(r.Context())
		if err != nil {
			principal = auth.PublicPrincipal()
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("admin ws: upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		session := proxy.Session{
			AgentIdentifier: principal.AgentIdentifier,
			Tier:            principal.Tier,
			DevMode:         devMode,
		}
		p.Serve(r.Context(), conn, session)
	}
}

func appWebSocketHandler(p *proxy.AppProxy, router *conductor.Router, devMode bool, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := auth.GetPrincipal(r.Context())
		if err != nil || (!devMode && !principal.IsAuthenticated()) {
			api.WriteUnauthorized(w, "authentication required")
			return
		}

		pool, err := router.Route(r.Context(), principal.AgentIdentifier)
		if err != nil {
			api.WriteError(w, api.KindDisconnected, "no conductor available for this agent")
			return
		}

		target, err := resolveAppEndpoint(router, pool.ConductorID(), r.URL.RawQuery)
		if err != nil {
			api.WriteInternal(w, err)
			return
		}

		upstream, _, err := websocket.DefaultDialer.DialContext(r.Context(), target, nil)
		if err != nil {
			api.WriteError(w, api.KindDisconnected, "failed to reach app interface")
			return
		}

		client, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("app ws: upgrade failed", "err", err)
			_ = upstream.Close()
			return
		}

		p.Serve(client, upstream)
	}
}

func resolveAppEndpoint(router *conductor.Router, conductorID conductor.ConductorID, rawQuery string) (string, error) {
	info, ok := router.Registry().Conductor(conductorID)
	if !ok {
		return "", fmt.Errorf("gateway: no endpoint registered for conductor %q", conductorID)
	}
	target := info.AppEndpoint
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return proxy.SanitizeAppTargetURL(target)
}

// deriveAppEndpoint derives the conductor's app interface URL from its
// admin interface URL, swapping in appPortMin. The admin and app
// interfaces of a conductor are both local to the same host, differing
// only by port, so the lower bound of the configured app port range is
// used as the endpoint until the deployment registers multiple
// conductors with distinct endpoints of their own.
func deriveAppEndpoint(adminURL string, appPortMin int) (string, error) {
	u, err := url.Parse(adminURL)
	if err != nil {
		return "", fmt.Errorf("parse CONDUCTOR_URL: %w", err)
	}
	u.Host = u.Hostname() + ":" + strconv.Itoa(appPortMin)
	return u.String(), nil
}

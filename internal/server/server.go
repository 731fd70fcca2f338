package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/selim2309/TenantGate/internal/api"
	"github.com/selim2309/TenantGate/internal/broker"
	"github.com/selim2309/TenantGate/internal/config"
	"github.com/selim2309/TenantGate/internal/decisionlog"
	"github.com/selim2309/TenantGate/internal/federation"
	"github.com/selim2309/TenantGate/internal/identity"
	"github.com/selim2309/TenantGate/internal/metrics"
	"github.com/selim2309/TenantGate/internal/middleware"
	"github.com/selim2309/TenantGate/internal/notify"
	"github.com/selim2309/TenantGate/internal/policy"
	"github.com/selim2309/TenantGate/internal/ratelimit"
	"github.com/selim2309/TenantGate/internal/schema"
	"github.com/selim2309/TenantGate/internal/store"
)

type Server struct {
	cfg         *config.Config
	store       *store.Store
	broker      *broker.Broker
	identity    *identity.Service
	metrics     *metrics.Collector
	apiHandler  *api.APIHandler
	notifyDisp  *notify.Dispatcher
	decisionLog *decisionlog.Logger
	rateLimiter *ratelimit.Limiter
	cache       *broker.SessionCache
}

func New(cfg *config.Config) (*Server, error) {
	metaDir := cfg.Storage.MetadataDir
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	st, err := store.NewStore(filepath.Join(metaDir, "tenantgate.db"))
	if err != nil {
		return nil, fmt.Errorf("init metadata store: %w", err)
	}

	tokens := identity.NewTokenService(cfg.Auth.TokenSecret)
	idsvc := identity.NewService(st, schema.Default(), tokens)
	mc := metrics.NewCollector(st)

	// Role selection rules from config.
	rules := map[policy.AuthState][]string{}
	if len(cfg.Broker.Roles.Authenticated) > 0 {
		rules[policy.Authenticated] = cfg.Broker.Roles.Authenticated
	}
	if len(cfg.Broker.Roles.Unauthenticated) > 0 {
		rules[policy.Unauthenticated] = cfg.Broker.Roles.Unauthenticated
	}
	selector, err := broker.NewRoleSelector(rules, broker.AmbiguousResolution(cfg.Broker.Roles.AmbiguousResolution))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("role selection: %w", err)
	}

	// The mapping table is applied out-of-band; load whatever the last
	// apply persisted. An empty table is valid at startup; every exchange
	// against it fails closed until the operator applies mappings.
	mappings, err := st.ListMappings()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	table, err := federation.NewTable(mappings)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("stored mappings invalid: %w", err)
	}

	br, err := broker.New(st, tokens, selector, table, broker.Options{
		ResourceID:           cfg.Broker.ResourceID,
		TagKey:               cfg.Broker.TagKey,
		DefaultDurationSecs:  cfg.Broker.DefaultDurationSecs,
		MaxDurationSecs:      cfg.Broker.MaxDurationSecs,
		AllowUnauthenticated: cfg.Broker.AllowUnauthenticated,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init broker: %w", err)
	}

	// Optional Redis session cache.
	var cache *broker.SessionCache
	if cfg.Cache.Redis.Enabled && cfg.Cache.Redis.Addr != "" {
		cache = broker.NewSessionCache(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		br.SetSessionCache(cache)
		log.Printf("Session cache: redis (%s)", cfg.Cache.Redis.Addr)
	}

	// Notification dispatcher and backends.
	nc := cfg.Notifications
	notifyDispatcher := notify.NewDispatcher(nc.Webhooks, nc.MaxWorkers, nc.QueueSize, nc.TimeoutSecs, nc.MaxRetries)
	if nc.Kafka.Enabled && len(nc.Kafka.Brokers) > 0 && nc.Kafka.Topic != "" {
		notifyDispatcher.AddBackend(notify.NewKafkaBackend(nc.Kafka.Brokers, nc.Kafka.Topic))
	}
	if nc.NATS.Enabled && nc.NATS.URL != "" && nc.NATS.Subject != "" {
		natsBackend, err := notify.NewNATSBackend(nc.NATS.URL, nc.NATS.Subject)
		if err != nil {
			log.Printf("Warning: NATS backend failed to connect: %v", err)
		} else {
			notifyDispatcher.AddBackend(natsBackend)
		}
	}
	if nc.Redis.Enabled && nc.Redis.Addr != "" {
		notifyDispatcher.AddBackend(notify.NewRedisBackend(nc.Redis.Addr, nc.Redis.Channel, nc.Redis.ListKey))
	}

	// Decision log if enabled.
	var decisions *decisionlog.Logger
	if cfg.Logging.DecisionLog {
		decisions, err = decisionlog.New(cfg.Logging.DecisionLogPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init decision log: %w", err)
		}
		log.Printf("Decision log: enabled (%s)", cfg.Logging.DecisionLogPath)
	}

	// Rate limiter for the exchange path.
	var limiter *ratelimit.Limiter
	if cfg.Security.ExchangeRPSPerIP > 0 {
		limiter = ratelimit.NewLimiter(
			cfg.Security.ExchangeRPSPerIP, cfg.Security.ExchangeBurstPerIP,
			cfg.Security.ExchangeRPSPerIP, cfg.Security.ExchangeBurstPerIP,
		)
		log.Printf("Rate limit: %.0f rps/%d burst per IP",
			cfg.Security.ExchangeRPSPerIP, cfg.Security.ExchangeBurstPerIP)
	}

	apiHandler := api.NewAPIHandler(st, idsvc, br, mc, cfg)
	apiHandler.SetNotifier(notifyDispatcher)
	if decisions != nil {
		apiHandler.SetDecisionLog(decisions)
	}
	if limiter != nil {
		apiHandler.SetLimiter(limiter)
	}

	// External identity sources.
	if oc := cfg.Sources.OIDC; oc != nil && oc.Enabled {
		src, err := identity.NewOIDCSource(identity.OIDCConfig{
			IssuerURL:      oc.IssuerURL,
			ClientID:       oc.ClientID,
			AttributeClaim: oc.AttributeClaim,
			CacheSecs:      oc.CacheSecs,
		})
		if err != nil {
			log.Printf("Warning: OIDC source unavailable: %v", err)
		} else {
			apiHandler.SetOIDCSource(src)
			log.Printf("OIDC source: %s", oc.IssuerURL)
		}
	}
	if lc := cfg.Sources.LDAP; lc != nil && lc.Enabled {
		apiHandler.SetLDAPSource(identity.NewLDAPSource(identity.LDAPConfig{
			ServerURL:     lc.ServerURL,
			BindDN:        lc.BindDN,
			BindPassword:  lc.BindPassword,
			BaseDN:        lc.BaseDN,
			UserFilter:    lc.UserFilter,
			AttributeMap:  lc.AttributeMap,
			TLSSkipVerify: lc.TLSSkipVerify,
			StartTLS:      lc.StartTLS,
		}))
		log.Printf("LDAP source: %s", lc.ServerURL)
	}

	return &Server{
		cfg:         cfg,
		store:       st,
		broker:      br,
		identity:    idsvc,
		metrics:     mc,
		apiHandler:  apiHandler,
		notifyDisp:  notifyDispatcher,
		decisionLog: decisions,
		rateLimiter: limiter,
		cache:       cache,
	}, nil
}

// selfCheck asserts the configured audiences exchange successfully before
// the listener opens.
func (s *Server) selfCheck(ctx context.Context) error {
	for _, audience := range s.cfg.Federation.CheckAudiences {
		if err := s.broker.SelfCheck(ctx, audience); err != nil {
			if s.cfg.Federation.RequireMappingAtStartup {
				return fmt.Errorf("federation self-check for %q: %w", audience, err)
			}
			slog.Warn("federation self-check failed", "audience", audience, "error", err)
		}
	}
	return nil
}

// Run starts the server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	addr := s.cfg.ListenAddr()

	if err := s.selfCheck(context.Background()); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(s.metrics.StartTime()))
	mux.HandleFunc("/readyz", readyHandler(s.store))
	mux.HandleFunc("/healthz/federation", federationHealthHandler(s.broker, s.cfg.Federation.CheckAudiences))
	mux.Handle("/metrics", s.metrics)
	mux.Handle("/api/v1/", s.apiHandler)

	var handler http.Handler = mux
	handler = middleware.SecurityHeaders(handler)
	handler = middleware.Metrics(s.metrics, handler)
	handler = middleware.RequestID(handler)
	handler = middleware.PanicRecovery(handler)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	scheme := "http"
	if s.cfg.Server.TLS.Enabled || s.cfg.Server.AutoTLS.Enabled {
		scheme = "https"
	}
	log.Printf("TenantGate starting on %s", addr)
	log.Printf("  Metadata dir:  %s", s.cfg.Storage.MetadataDir)
	log.Printf("  Resource:      %s (tag key %q)", s.cfg.Broker.ResourceID, s.cfg.Broker.TagKey)
	log.Printf("  Mappings:      %d entries (version %s)", len(s.broker.Table().Entries()), s.broker.Table().Version())
	log.Printf("  Health:        %s://%s/healthz", scheme, addr)

	// Background loops: expired credential purge and audit retention.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go s.purgeLoop(bgCtx)
	go s.auditPruneLoop(bgCtx)

	notifyCtx, notifyCancel := context.WithCancel(context.Background())
	defer notifyCancel()
	s.notifyDisp.Start(notifyCtx)

	errCh := make(chan error, 1)
	go func() {
		switch {
		case s.cfg.Server.AutoTLS.Enabled:
			tlsCfg, fallback := NewAutoTLS(s.cfg.Server.AutoTLS)
			httpServer.TLSConfig = tlsCfg
			if fallback != nil {
				go http.ListenAndServe(":80", fallback)
			}
			errCh <- httpServer.ListenAndServeTLS("", "")
		case s.cfg.Server.TLS.Enabled:
			errCh <- httpServer.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		default:
			errCh <- httpServer.ListenAndServe()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down gracefully...", sig)
	}

	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown timed out after %v: %v", timeout, err)
		return err
	}

	s.notifyDisp.Stop()
	log.Println("Server stopped gracefully")
	return nil
}

// purgeLoop removes expired credentials on an interval. Expiry is the
// only revocation mechanism, so the records are dead weight once past it.
func (s *Server) purgeLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Security.CredentialPurgeSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.PurgeExpiredCredentials(time.Now())
			if err != nil {
				slog.Error("credential purge failed", "error", err)
			} else if n > 0 {
				slog.Info("purged expired credentials", "count", n)
			}
		}
	}
}

func (s *Server) auditPruneLoop(ctx context.Context) {
	days := s.cfg.Security.AuditRetentionDays
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -days)
			n, err := s.store.PruneAudit(cutoff)
			if err != nil {
				slog.Error("audit prune failed", "error", err)
			} else if n > 0 {
				slog.Info("pruned audit entries", "count", n)
			}
		}
	}
}

func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.decisionLog != nil {
		s.decisionLog.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

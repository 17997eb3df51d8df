package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"attesto/internal/credential"
	credentialhandler "attesto/internal/credential/handler"
	credentialmetrics "attesto/internal/credential/metrics"
	"attesto/internal/credential/tracer"
	issuancehandler "attesto/internal/issuance/handler"
	issuancemetrics "attesto/internal/issuance/metrics"
	issuanceservice "attesto/internal/issuance/service"
	issuancestore "attesto/internal/issuance/store"
	"attesto/internal/keys"
	oauthhandler "attesto/internal/oauth/handler"
	oauthmetrics "attesto/internal/oauth/metrics"
	oauthservice "attesto/internal/oauth/service"
	oauthstore "attesto/internal/oauth/store"
	"attesto/internal/platform/config"
	"attesto/internal/platform/health"
	"attesto/internal/platform/httpserver"
	"attesto/internal/platform/logger"
	httptransport "attesto/internal/transport/http"
	verificationhandler "attesto/internal/verification/handler"
	verificationmetrics "attesto/internal/verification/metrics"
	verificationservice "attesto/internal/verification/service"
	verificationstore "attesto/internal/verification/store"
	"attesto/internal/verification/workers/cleanup"
	"attesto/internal/wellknown"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing attesto",
		"addr", cfg.Addr,
		"issuer_url", cfg.IssuerURL,
		"wallet_url", cfg.WalletURL,
	)

	keyManager, err := keys.NewManager(cfg.KeysDir, log)
	if err != nil {
		log.Error("key material unavailable", "error", err)
		os.Exit(1)
	}

	signer := credential.NewSigner(keyManager, cfg.IssuerURL, cfg.WalletURL, cfg.VerifierURL,
		credential.WithTracer(tracer.NewOTel()),
		credential.WithMetrics(credentialmetrics.New()),
		credential.WithLogger(log),
	)

	issuanceSvc := issuanceservice.New(
		issuancestore.NewInMemorySessionStore(),
		signer,
		cfg,
		issuanceservice.WithMetrics(issuancemetrics.New()),
		issuanceservice.WithLogger(log),
	)

	requestStore := verificationstore.NewInMemoryRequestObjectStore()
	responseStore := verificationstore.NewInMemoryResponseStore()
	sessionStore := verificationstore.NewInMemorySessionStore()

	verificationSvc := verificationservice.New(
		requestStore,
		responseStore,
		sessionStore,
		signer,
		cfg,
		verificationservice.WithMetrics(verificationmetrics.New()),
		verificationservice.WithLogger(log),
	)

	oauthSvc := oauthservice.New(
		oauthstore.NewInMemoryCodeStore(),
		oauthstore.NewInMemoryStateStore(),
		issuanceSvc,
		oauthservice.WithMetrics(oauthmetrics.New()),
		oauthservice.WithLogger(log),
	)

	sweeper, err := cleanup.New(requestStore, responseStore, sessionStore,
		cleanup.WithCleanupInterval(cfg.SweepInterval),
		cleanup.WithCleanupLogger(log),
	)
	if err != nil {
		log.Error("cleanup worker setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		if err := sweeper.Start(ctx); err != nil && err != context.Canceled {
			log.Error("cleanup worker stopped", "error", err)
		}
	}()

	healthHandler := health.New(cfg.IssuerURL)
	healthHandler.RegisterCheck("keys", keyManager.Ready)

	router := httptransport.NewRouter(log,
		healthHandler,
		wellknown.New(cfg, keyManager),
		credentialhandler.New(signer, log),
		issuancehandler.New(issuanceSvc, log),
		verificationhandler.New(verificationSvc, log),
		oauthhandler.New(oauthSvc, log),
	)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server gracefully")

	if err := httpserver.Shutdown(srv, 10*time.Second); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

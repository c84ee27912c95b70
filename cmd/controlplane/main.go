// Command controlplane boots every fleet control-plane component and
// serves the HTTP ingress until it receives SIGINT/SIGTERM, following the
// flag/env bootstrap plus signal-drained shutdown shape of the teacher's
// cmd/appserver/main.go.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanfleet/control-plane/internal/app/config"
	"github.com/cleanfleet/control-plane/internal/app/corekit"
	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
	"github.com/cleanfleet/control-plane/internal/app/httpapi"
	"github.com/cleanfleet/control-plane/internal/app/metrics"
	"github.com/cleanfleet/control-plane/internal/app/services/accesscontrol"
	"github.com/cleanfleet/control-plane/internal/app/services/auditstore"
	"github.com/cleanfleet/control-plane/internal/app/services/compliance"
	"github.com/cleanfleet/control-plane/internal/app/services/distributor"
	"github.com/cleanfleet/control-plane/internal/app/services/heartbeat"
	"github.com/cleanfleet/control-plane/internal/app/services/policystore"
	"github.com/cleanfleet/control-plane/internal/app/services/registration"
	"github.com/cleanfleet/control-plane/internal/app/services/registry"
	"github.com/cleanfleet/control-plane/internal/app/services/tokenprovider"
	"github.com/cleanfleet/control-plane/internal/app/services/transport"
	"github.com/cleanfleet/control-plane/internal/app/services/useraccounts"
	"github.com/cleanfleet/control-plane/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// fleetAuditSink fans a single audit call out to both the fleet-wide Audit
// Event Store and the Compliance Reporter's internal ring buffer, so the
// Distributor, Registration Service, and Access Controller each need only
// one injected dependency.
type fleetAuditSink struct {
	store    *auditstore.Store
	reporter *compliance.Reporter
}

func (s fleetAuditSink) Insert(e audit.Event) { s.store.Insert(e) }

func (s fleetAuditSink) RecordAuditLog(agentID, severity, category, message string) {
	s.reporter.RecordAuditLog(agentID, severity, category, message)
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides LISTEN_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.With("controlplane").WithField("config", cfg.String()).Info("starting control plane")

	reg := registry.New(registry.Config{
		TokenValidityDuration: cfg.TokenValidityDuration,
		MaxAgents:             cfg.MaxAgents,
		AllowReregistration:   cfg.AllowReregistration,
	}, nil)

	registrationSvc := registration.New(cfg.Registration, reg)

	dist := distributor.New(distributor.Config{
		MaxConcurrentDistributions: cfg.MaxConcurrentDistributions,
		MaxRetryAttempts:           cfg.MaxRetryAttempts,
		RetryDelay:                 cfg.RetryDelay,
		AcknowledgementTimeout:     cfg.AcknowledgementTimeout,
		ContinueOnFailure:          true,
		MinimumSuccessRate:         cfg.MinimumSuccessRate,
		AutoRollbackOnFailure:      cfg.AutoRollbackOnFailure,
	}, reg, transport.New(log), log)

	hb := heartbeat.New(heartbeat.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		SweepInterval:     cfg.SweepInterval,
	}, reg, dist, log)

	policies := policystore.New(cfg.PolicyDir)

	reporter := compliance.New(compliance.Config{
		PolicyWeight:       cfg.PolicyWeight,
		HealthWeight:       cfg.HealthWeight,
		ConnectivityWeight: cfg.ConnectivityWeight,
		HeartbeatTimeout:   cfg.HeartbeatTimeout,
		MaxAuditLogEntries: cfg.MaxAuditLogEntries,
	}, reg, dist)

	events := auditstore.New(cfg.Audit, nil)

	auditSink := fleetAuditSink{store: events, reporter: reporter}
	dist.SetAuditRecorder(auditSink)
	registrationSvc.SetAuditRecorder(auditSink)

	tokens := tokenprovider.New(tokenprovider.Config{
		Secret:               cfg.JWTSecret,
		Issuer:               cfg.JWTIssuer,
		AccessTokenDuration:  cfg.AccessTokenDuration,
		RefreshTokenDuration: cfg.RefreshTokenDuration,
	})

	adminHash, err := useraccounts.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.With("controlplane").WithError(err).Fatal("hash admin password")
	}
	accounts := useraccounts.New([]useraccounts.Account{
		{ID: "admin", Username: cfg.AdminUsername, PasswordHash: adminHash, Role: authz.RoleAdmin, Active: true},
	})

	access := accesscontrol.New(accesscontrol.Config{
		LogAllAccess:    cfg.LogAllAccess,
		LogDeniedAccess: cfg.LogDeniedAccess,
		MaxAuditEntries: cfg.MaxAuditEntries,
	}, httpapi.AccessPolicies(), tokens, accounts)
	access.SetAuditRecorder(auditSink)

	metricsRegistry := metrics.New(prometheus.DefaultRegisterer)

	httpSvc := httpapi.NewService(cfg.ListenAddr, &httpapi.Deps{
		Registry:     reg,
		Registration: registrationSvc,
		Heartbeat:    hb,
		Distributor:  dist,
		PolicyStore:  policies,
		AuditStore:   events,
		Reporter:     reporter,
		Tokens:       tokens,
		Access:       access,
		Accounts:     accounts,
		Metrics:      metricsRegistry,
		Log:          log,
	})

	runner := corekit.NewRunner()
	if err := runner.Register(httpSvc); err != nil {
		log.With("controlplane").WithError(err).Fatal("register http service")
	}

	rootCtx := context.Background()

	hbCtx, cancelHeartbeat := context.WithCancel(rootCtx)
	hb.StartMonitoring(hbCtx)

	if err := runner.Start(rootCtx); err != nil {
		cancelHeartbeat()
		log.With("controlplane").WithError(err).Fatal("start control plane")
	}
	log.With("controlplane").WithField("addr", cfg.ListenAddr).Info("control plane listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.With("controlplane").Info("shutdown signal received")

	hb.StopMonitoring()
	cancelHeartbeat()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runner.Stop(shutdownCtx); err != nil {
		log.With("controlplane").WithError(err).Fatal("shutdown control plane")
	}
}

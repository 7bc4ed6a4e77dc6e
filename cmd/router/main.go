package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradewerk/broker-router/internal/anomaly"
	"github.com/tradewerk/broker-router/internal/audit"
	"github.com/tradewerk/broker-router/internal/broker/adapters"
	"github.com/tradewerk/broker-router/internal/config"
	"github.com/tradewerk/broker-router/internal/executor"
	"github.com/tradewerk/broker-router/internal/monitoring"
	"github.com/tradewerk/broker-router/internal/notifications"
	"github.com/tradewerk/broker-router/internal/orchestrator"
	"github.com/tradewerk/broker-router/internal/risk"
	"github.com/tradewerk/broker-router/internal/router"
	"github.com/tradewerk/broker-router/internal/state"
	"github.com/tradewerk/broker-router/internal/stress"
	"github.com/tradewerk/broker-router/internal/vault"
	"github.com/tradewerk/broker-router/pkg/reporting"
)

func main() {
	var (
		configPath = flag.String("config", "configs/router.json", "Path to router configuration file")
		envFile    = flag.String("env", ".env", "Path to .env file (optional)")
		reportPath = flag.String("report", "", "Write an Excel report to this path on shutdown")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file loaded (%v), using process environment", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	log.Printf("Starting broker router in %s mode", cfg.Environment)

	// Audit log backs every other component; it comes up first.
	auditLog, err := newAuditLog(cfg)
	if err != nil {
		log.Fatalf("Audit log error: %v", err)
	}
	defer auditLog.Close()

	healthChecker := monitoring.NewHealthChecker()

	// Unlock the credential vault once; the master key never touches logs.
	v := vault.New(auditLog)
	if cfg.Vault.Path != "" {
		masterKey := os.Getenv(cfg.Vault.MasterKeyEnv)
		if masterKey == "" {
			log.Fatalf("Vault configured but %s is not set", cfg.Vault.MasterKeyEnv)
		}
		if err := v.Unlock(cfg.Vault.Path, []byte(masterKey)); err != nil {
			log.Fatalf("Vault unlock failed: %v", err)
		}
		log.Println("Credential vault unlocked")
	}
	healthChecker.SetVaultUnlocked(true)

	// Build the broker registry and routing table.
	factory := adapters.NewFactory(vault.NewCredentialSource(v))
	registry, err := factory.BuildRegistry(cfg.BrokerConfigs())
	if err != nil {
		log.Fatalf("Broker registry error: %v", err)
	}

	assetRouter, err := router.New(registry, cfg.RouteTable(), 1)
	if err != nil {
		log.Fatalf("Routing table error: %v", err)
	}

	coordinator := executor.NewCoordinator(registry, assetRouter, auditLog, executor.Policy{
		AutoFailover:     cfg.Executor.AutoFailover,
		FailoverOnReject: cfg.Executor.FailoverOnReject,
	})

	riskEngine := risk.NewEngine(cfg.Risk, cfg.StartingEquity, auditLog)
	monitor := anomaly.NewMonitor(cfg.Anomaly, riskEngine, auditLog)
	stressEngine := stress.NewEngine(cfg.StressConfig(), riskEngine, monitor, auditLog)

	service := orchestrator.NewService(registry, coordinator, riskEngine, monitor, stressEngine, healthChecker, time.Minute)
	if cfg.Notifications.TelegramToken != "" {
		service.SetNotifier(notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID))
		log.Println("Telegram alerts enabled")
	}

	console := reporting.NewConsoleReporter()
	console.PrintBrokers(cfg.BrokerConfigs())

	// Monitoring endpoints.
	go setupMonitoringServers(cfg, healthChecker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checkpointer, err := state.NewCheckpointer(riskEngine, cfg.StateDir(), time.Minute)
	if err != nil {
		log.Fatalf("State checkpoint error: %v", err)
	}
	if last, err := checkpointer.Load(); err == nil {
		log.Printf("Last checkpointed risk mode: %s (as of %s)", last.Mode, last.AsOf.Format(time.RFC3339))
	}

	go service.Start(ctx)
	go stressEngine.Start(ctx)
	go checkpointer.Run(ctx)

	log.Println("Broker router started")

	// Wait for shutdown signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()

	console.PrintRiskSnapshot(riskEngine.Snapshot())
	if results := stressEngine.LastResults(); len(results) > 0 {
		console.PrintStressResults(results)
	}
	console.PrintAuditTail(auditLog.Recent(), 20)

	if *reportPath != "" {
		err := reporting.NewExcelReporter().WriteReport(
			*reportPath, stressEngine.LastResults(), riskEngine.Snapshot(), auditLog.Recent())
		if err != nil {
			log.Printf("Report error: %v", err)
		} else {
			log.Printf("Report written to %s", *reportPath)
		}
	}

	log.Println("Broker router stopped")
}

func newAuditLog(cfg *config.Config) (*audit.Log, error) {
	if cfg.Audit.Dir != "" {
		return audit.NewFileLog(cfg.Audit.Dir, cfg.Audit.MaxKeep)
	}
	return audit.NewLog(cfg.Audit.MaxKeep), nil
}

func setupMonitoringServers(cfg *config.Config, healthChecker *monitoring.HealthChecker) {
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", healthChecker)

	go func() {
		log.Printf("Starting health server on port %d", cfg.Monitoring.HealthPort)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Monitoring.HealthPort), healthMux); err != nil {
			log.Printf("Health server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Starting Prometheus server on port %d", cfg.Monitoring.PrometheusPort)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), monitoring.NewMetricsHandler()); err != nil {
			log.Printf("Prometheus server error: %v", err)
		}
	}()
}

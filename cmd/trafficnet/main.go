// Command trafficnet runs the privacy-preserving traffic telemetry
// coordinator.
//
// # Configuration File
//
// Create a YAML file with service settings:
//
//	http_addr: ":8080"
//	metrics_addr: ":9090"
//	oracle_key: ""           # hex Ed25519 key, or install via POST /oracle/key
//	events_buffer: 256
//	attestation:
//	  use_tdx: false
//	  remote_url: ""
//	postgres:
//	  enabled: false
//	  host: "localhost"
//	  port: 5432
//	  user: "trafficflo"
//	  password: ""
//	  database: "trafficflo"
//
// # Endpoints
//
//   - POST /nodes, /signals - register entities with encrypted readings
//   - POST /verify/{id} - submit an oracle opening (clear value + proof)
//   - POST /adjust - recompute a signal's cycle time
//   - GET /nodes, /signals, /nodes/{id}, /signals/{id} - query surface
//   - GET /nodes/{id}/ciphertext, /signals/{id}/ciphertext - handles for the oracle
//   - GET /events, /health - presentation surface
//   - POST /oracle/key - install the oracle's attested verifying key
//
// # Usage
//
//	go run ./cmd/trafficnet --config=trafficnet.yaml
//	go run ./cmd/trafficnet --addr=:8080 --metrics-addr=:9090
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tplussbri/TrafficFlo-Z/api/httpserver"
	"github.com/tplussbri/TrafficFlo-Z/cmd/common"
	"github.com/tplussbri/TrafficFlo-Z/crypto"
	"github.com/tplussbri/TrafficFlo-Z/ledger"
	"github.com/tplussbri/TrafficFlo-Z/services"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		addr         = flag.String("addr", "", "HTTP listen address")
		metricsAddr  = flag.String("metrics-addr", "", "Metrics listen address")
		enablePprof  = flag.Bool("pprof", false, "Enable pprof debug API")
		logJSON      = flag.Bool("log-json", false, "Log in JSON format")
		oracleKey    = flag.String("oracle-key", "", "Hex-encoded oracle verifying key")
		useTDX       = flag.Bool("tdx", false, "Use real TDX attestation verification")
		remoteTDXURL = flag.String("tdx-url", "", "Remote TDX verification service URL")
		noAttest     = flag.Bool("no-attestation", false, "Install oracle keys without attestation (dev only)")
	)
	flag.Parse()

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	applyFlagOverrides(cfg, *addr, *metricsAddr, *enablePprof, *logJSON,
		*oracleKey, *useTDX, *remoteTDXURL, *noAttest)

	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath string) (*common.Config, error) {
	if configPath != "" {
		return common.LoadConfig(configPath)
	}
	return common.DefaultConfig(), nil
}

func applyFlagOverrides(cfg *common.Config, addr, metricsAddr string,
	enablePprof, logJSON bool, oracleKey string, useTDX bool, remoteTDXURL string, noAttest bool) {

	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if enablePprof {
		cfg.EnablePprof = true
	}
	if logJSON {
		cfg.LogJSON = true
	}
	if oracleKey != "" {
		cfg.OracleKey = oracleKey
	}
	if useTDX {
		cfg.Attestation.UseTDX = true
	}
	if remoteTDXURL != "" {
		cfg.Attestation.RemoteURL = remoteTDXURL
	}
	if noAttest {
		cfg.Attestation.Disabled = true
	}
}

func run(cfg *common.Config) error {
	log := common.NewLogger(cfg.LogJSON)

	oracleKey, err := common.ParseOracleKey(cfg.OracleKey)
	if err != nil {
		return fmt.Errorf("invalid oracle key: %w", err)
	}
	verifier := crypto.NewOracleVerifier(oracleKey)

	events := ledger.NewRingSink(cfg.EventsBuffer)
	sinks := ledger.MultiSink{&ledger.SlogSink{Log: log}, events}

	ledgerCfg := &ledger.Config{
		Scheme: crypto.EnvelopeScheme{},
		Proofs: verifier,
		Events: sinks,
	}

	var store *services.PostgresStore
	if cfg.Postgres.Enabled {
		store, err = services.NewPostgresStore(&cfg.Postgres.PostgresConfig)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer store.Close()
		ledgerCfg.Store = store
	}

	l, err := ledger.NewLedger(ledgerCfg)
	if err != nil {
		return err
	}

	if store != nil {
		nodes, signals, err := store.LoadAll()
		if err != nil {
			return fmt.Errorf("loading persisted entities: %w", err)
		}
		if err := l.Restore(nodes, signals); err != nil {
			return fmt.Errorf("restoring ledger: %w", err)
		}
		log.Info("Restored persisted entities", "nodes", len(nodes), "signals", len(signals))
	}

	facade, err := services.NewFacade(&services.FacadeConfig{
		Ledger:              l,
		OracleVerifier:      verifier,
		AttestationProvider: common.NewAttestationProvider(&cfg.Attestation),
		Events:              events,
		AllowedOrigins:      cfg.AllowedOrigins,
		Log:                 log,
	})
	if err != nil {
		return err
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		MetricsAddr:              cfg.MetricsAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            cfg.DrainDuration,
		GracefulShutdownDuration: cfg.GracefulShutdownDuration,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             10 * time.Second,
	}, facade)
	if err != nil {
		return err
	}

	srv.RunInBackground()
	log.Info("Coordinator started", "addr", cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down")
	srv.Shutdown()
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mintwatch-trading/mintwatch/internal/chain"
	"github.com/mintwatch-trading/mintwatch/internal/config"
	"github.com/mintwatch-trading/mintwatch/internal/observability"
	"github.com/mintwatch-trading/mintwatch/internal/poller"
	"github.com/mintwatch-trading/mintwatch/internal/position"
	"github.com/mintwatch-trading/mintwatch/internal/qualify"
	"github.com/mintwatch-trading/mintwatch/internal/reputation"
	"github.com/mintwatch-trading/mintwatch/internal/trade"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// controlState tracks the operational state for the control plane.
type controlState struct {
	paused atomic.Bool // soft pause: no new entries, keep managing open positions
	killed atomic.Bool // hard kill: close all, halt entries
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub collaborators (no network)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("MINTWATCH Creator Coin Hunter - Starting")
	log.Info().Msg("POLL -> QUALIFY -> OPEN -> MONITOR -> EXIT")
	log.Info().Msg("=============================================")

	registry, err := cfg.Registry()
	if err != nil {
		log.Fatal().Err(err).Msg("Strategy registry build failed")
	}
	policy, err := registry.Get(cfg.Hunter.ActiveStrategy)
	if err != nil {
		log.Fatal().Err(err).Strs("known", registry.Names()).Msg("Unknown active strategy")
	}
	if err := policy.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Active strategy validation failed")
	}

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", cfg.General.DryRun).
		Bool("stub_mode", *stubMode).
		Str("strategy", policy.Name).
		Int("min_reputation", policy.MinReputationScore).
		Str("stop_loss_pct", policy.StopLossPct.String()).
		Dur("max_hold", policy.MaxHold).
		Uint64("stale_threshold", cfg.Hunter.StaleBlockThreshold).
		Msg("Configuration loaded")

	// Chain client.
	var chainClient chain.Client
	if *stubMode {
		chainClient = chain.NewStubClient()
		log.Info().Msg("Chain RPC: STUB mode")
	} else {
		liveClient, err := chain.NewLiveClient(chain.Config{
			Endpoint:     cfg.Chain.Endpoint,
			Timeout:      time.Duration(cfg.Chain.TimeoutMs) * time.Millisecond,
			MaxRetries:   cfg.Chain.MaxRetries,
			RateLimitRPS: cfg.Chain.RateLimitRPS,
		}, common.HexToAddress(cfg.Chain.QuoterAddress))
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", cfg.Chain.Endpoint).Msg("Chain RPC dial failed")
		}
		defer liveClient.Close()
		chainClient = liveClient

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := chainClient.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Chain.Endpoint).
				Msg("Chain RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Chain.Endpoint).Msg("Chain RPC: LIVE - connected")
		}
		healthCancel()
	}

	// Profile resolver.
	var resolver reputation.Resolver
	if *stubMode {
		resolver = reputation.NewStubResolver()
		log.Info().Msg("Profile resolver: STUB mode")
	} else {
		resolver = reputation.NewLiveResolver(reputation.ClientConfig{
			BaseURL:      cfg.Reputation.BaseURL,
			APIKey:       cfg.Reputation.APIKey,
			Timeout:      time.Duration(cfg.Reputation.TimeoutMs) * time.Millisecond,
			RateLimitRPS: cfg.Reputation.RateLimitRPS,
		})
	}

	// Trade executor. Dry-run unless explicitly disabled.
	var executor trade.Executor
	if cfg.General.DryRun || *stubMode {
		executor = trade.NewDryRunExecutor()
		log.Info().Msg("Trade executor: DRY RUN (no transactions)")
	} else {
		// Live execution goes through the trading SDK; wiring it is a
		// deployment concern. Running without it keeps dry-run semantics.
		executor = trade.NewDryRunExecutor()
		log.Warn().Msg("Trade executor: live SDK not configured, falling back to DRY RUN")
	}

	// Position manager.
	manager := position.NewManager(position.Config{
		MonitorInterval:  time.Duration(cfg.Hunter.MonitorIntervalMs) * time.Millisecond,
		MaxPositions:     cfg.Hunter.MaxPositions,
		MaxDailySpendETH: cfg.Hunter.MaxDailySpendETH,
		MaxDailyLossETH:  cfg.Hunter.MaxDailyLossETH,
	}, executor, chainClient)

	manager.SetOnOpen(func(pos *position.Position) {
		log.Warn().
			Str("pos_id", pos.ID).
			Str("token", pos.Token.Hex()).
			Str("creator", pos.Creator.Hex()).
			Str("entry_price", pos.EntryPrice.String()).
			Msg("[POSITION OPENED]")
	})
	manager.SetOnClose(func(pos *position.Position) {
		log.Warn().
			Str("pos_id", pos.ID).
			Str("token", pos.Token.Hex()).
			Str("reason", pos.CloseReason).
			Str("pnl_pct", pos.PnLPct.StringFixed(2)).
			Msg("[POSITION CLOSED]")
	})

	// Qualification engine.
	gate := reputation.NewGate()
	qualifier := qualify.NewEngine(resolver, gate, policy, manager)

	// Control state.
	ctrl := &controlState{}

	// Event poller feeding the pipeline.
	eventPoller := poller.New(poller.Config{
		FactoryAddress:      common.HexToAddress(cfg.Chain.FactoryAddress),
		StaleBlockThreshold: cfg.Hunter.StaleBlockThreshold,
		PollInterval:        time.Duration(cfg.Hunter.PollIntervalMs) * time.Millisecond,
	}, chainClient, func(ctx context.Context, event poller.CreationEvent) {
		if ctrl.killed.Load() || ctrl.paused.Load() {
			return
		}
		verdict := qualifier.Evaluate(ctx, event)
		if verdict.Qualifies {
			manager.HandleVerdict(ctx, verdict)
		}
	})

	// Health monitor over the collaborators.
	healthMon := observability.NewMonitor(30 * time.Second)
	healthMon.Register("chain_rpc", chainClient.Health)
	if live, ok := resolver.(*reputation.LiveResolver); ok {
		healthMon.Register("profile_api", func(ctx context.Context) error {
			_, err := live.Resolve(ctx, common.Address{})
			return err
		})
	}

	// Shutdown plumbing.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eventPoller.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Poller error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := manager.Run(ctx, policy); err != nil {
			log.Error().Err(err).Msg("Position monitor error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMon.Run(ctx)
	}()

	// HTTP control plane: health, stats, positions, pause/kill.
	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"health":  healthMon.Snapshot(),
				"dry_run": cfg.General.DryRun,
				"paused":  ctrl.paused.Load(),
				"killed":  ctrl.killed.Load(),
			})
		})

		mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"poller":    eventPoller.Stats(),
				"qualifier": qualifier.Stats(),
				"positions": manager.Stats(),
				"paused":    ctrl.paused.Load(),
				"killed":    ctrl.killed.Load(),
			})
		})

		mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(manager.Positions())
		})
		mux.HandleFunc("/positions/open", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(manager.OpenPositions())
		})

		mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			ctrl.paused.Store(true)
			manager.SetPaused(true)
			log.Warn().Msg("[CONTROL] PAUSED - no new entries")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"paused"}`)
		})

		mux.HandleFunc("/control/resume", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			ctrl.paused.Store(false)
			ctrl.killed.Store(false)
			manager.SetPaused(false)
			log.Info().Msg("[CONTROL] RESUMED")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"running"}`)
		})

		mux.HandleFunc("/control/kill", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			ctrl.killed.Store(true)
			ctrl.paused.Store(true)
			manager.SetPaused(true)
			log.Error().Msg("[CONTROL] KILL SWITCH - closing all positions")

			go func() {
				killCtx, killCancel := context.WithTimeout(context.Background(), 30*time.Second)
				manager.ForceClose(killCtx)
				killCancel()
			}()

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"killed","action":"force_close_all"}`)
		})

		mux.HandleFunc("/control/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"paused":         ctrl.paused.Load(),
				"killed":         ctrl.killed.Load(),
				"dry_run":        cfg.General.DryRun,
				"open_positions": len(manager.OpenPositions()),
				"instance_id":    cfg.General.InstanceID,
				"last_block":     eventPoller.LastProcessed(),
			})
		})

		addr := fmt.Sprintf(":%d", cfg.Hunter.ControlPort)
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		log.Info().Str("addr", addr).Msg("Control plane HTTP server started")

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()

		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ps := eventPoller.Stats()
				qs := qualifier.Stats()
				ms := manager.Stats()
				log.Info().
					Int64("polls", ps.Polls).
					Int64("events", ps.EventsYield).
					Int64("stale_dropped", ps.EventsStale).
					Int64("evaluated", qs.Evaluated).
					Int64("qualified", qs.Qualified).
					Int("open_pos", ms.OpenPositions).
					Int64("wins", ms.WinCount).
					Int64("losses", ms.LossCount).
					Str("daily_spent", ms.DailySpentETH).
					Bool("paused", ctrl.paused.Load()).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("MINTWATCH Creator Coin Hunter - Running")
	log.Info().Msg("Monitoring factory for new creator coins...")

	<-ctx.Done()

	log.Info().Msg("Shutting down Hunter...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	manager.ForceClose(shutdownCtx)
	shutdownCancel()

	wg.Wait()

	finalStats := manager.Stats()
	log.Info().
		Int64("total_opens", finalStats.TotalOpens).
		Int64("total_sells", finalStats.TotalSells).
		Int64("wins", finalStats.WinCount).
		Int64("losses", finalStats.LossCount).
		Str("daily_spent", finalStats.DailySpentETH).
		Msg("MINTWATCH Creator Coin Hunter - Final Statistics")

	log.Info().Msg("MINTWATCH Creator Coin Hunter - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "mintwatch-hunter").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "mintwatch-hunter").
			Str("instance", general.InstanceID).Logger()
	}
}

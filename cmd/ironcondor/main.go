// Command ironcondor wires every module — risk gate, order router, kill
// switch, multi-leg executor, strategy engine, margin monitor,
// reconciliation service, and morph engine — into one running process,
// backed by Redis for hot state and Postgres for the durable journal and
// audit trail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ironcondor/internal/barseries"
	"ironcondor/internal/broker"
	"ironcondor/internal/config"
	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/execution"
	"ironcondor/internal/indicators"
	"ironcondor/internal/killswitch"
	"ironcondor/internal/margin"
	"ironcondor/internal/morph"
	"ironcondor/internal/observability"
	"ironcondor/internal/reconciliation"
	"ironcondor/internal/resilience"
	"ironcondor/internal/risk"
	"ironcondor/internal/router"
	"ironcondor/internal/storage/audit"
	"ironcondor/internal/storage/journal"
	"ironcondor/internal/storage/kv"
	"ironcondor/internal/storage/timeseries"
	"ironcondor/internal/strategyengine"
	"ironcondor/internal/writebehind"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config JSON (optional, defaults are used when absent)")
	addr := flag.String("addr", ":8090", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("starting ironcondor v%s (config: %s)", version, configSource(cfg.LoadedFrom))

	marketZone, err := cfg.Market.Location()
	if err != nil {
		log.Fatalf("market: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := observability.NewRegistry()
	metrics := observability.NewTradingMetrics(reg)

	bus := eventbus.New()

	pgPool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("postgres: new pool: %v", err)
	}
	defer pgPool.Close()
	if err := pgPool.Ping(ctx); err != nil {
		log.Fatalf("postgres: ping: %v", err)
	}

	if err := audit.RunMigrations(cfg.Postgres.DSN, cfg.Postgres.MigrationsSource); err != nil {
		log.Fatalf("postgres: run migrations: %v", err)
	}

	journalStore := journal.NewStore(pgPool)
	auditStore := audit.NewStore(pgPool)

	kvStore, err := kv.New(ctx, kv.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		log.Fatalf("redis kv: %v", err)
	}
	defer kvStore.Close()

	tsStore, err := timeseries.New(ctx, timeseries.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		Retention: cfg.Redis.Retention,
	})
	if err != nil {
		log.Fatalf("redis timeseries: %v", err)
	}

	gateway := broker.NewHTTPGateway(broker.HTTPGatewayConfig{
		BaseURL:    cfg.Broker.BaseURL,
		APIKey:     cfg.Broker.APIKey,
		AccessTok:  cfg.Broker.AccessToken,
		Timeout:    cfg.Broker.Timeout,
		BreakerCfg: brokerBreakerConfig(cfg),
	})

	limits, err := cfg.Risk.ToDomainRiskLimits()
	if err != nil {
		log.Fatalf("risk: %v", err)
	}
	underlyingLimits := config.ToDomainUnderlyingLimits(cfg.UnderlyingLimits)

	positionChecker := risk.NewPositionRiskChecker(limits)
	accountChecker := risk.NewAccountRiskChecker(limits, bus)
	underlyingChecker := risk.NewUnderlyingRiskChecker()
	underlyingChecker.SetLimits(underlyingLimits)
	gate := risk.NewGate(positionChecker, accountChecker, underlyingChecker, bus)

	accountFunc := func() risk.AccountState {
		return accountStateFromStore(ctx, kvStore)
	}
	priceFunc := func(instrumentToken int64) *decimal.Decimal {
		return nil // no live reference-price feed wired in this deployment
	}
	rtr := router.New(gateway, gate, bus, kvStore, accountFunc, priceFunc)

	strategies := strategyengine.New(bus)

	ks := killswitch.New(rtr, strategies, gateway, bus)

	fillTracker := execution.NewFillTracker(bus)
	routeFn := func(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, string) {
		res := rtr.Route(ctx, req, false)
		return res.Order, res.Accepted, res.RejectionReason
	}
	executor := execution.New(journalStore, routeFn, fillTracker, bus)

	marginMonitor := margin.NewMonitor(gateway, bus, decimal.NewFromFloat(limits.MaxMarginUtilization))

	clock := reconciliation.NewSessionClock(9*time.Hour+15*time.Minute, 15*time.Hour+30*time.Minute, marketZone)
	recon := reconciliation.New(gateway, kvStore, clock, bus)

	morphEngine := morph.New(auditStore, strategies, routeFn, bus, morph.Config{
		Enabled:        cfg.Morph.Enabled,
		MaxLegsToClose: cfg.Morph.MaxLegsToClose,
	})
	if n, err := morphEngine.RecoverAtStartup(ctx); err != nil {
		log.Printf("morph: startup recovery error: %v", err)
	} else if n > 0 {
		log.Printf("morph: recovered %d orphaned in-flight plans as partially done", n)
	}

	series := barseries.NewStore(marketZone)
	indicatorEngine := indicators.NewEngine(series, bus)
	if cfg.Indicators.Enabled {
		for _, instCfg := range cfg.Indicators.ToEngineConfigs() {
			indicatorEngine.Track(instCfg)
		}
		log.Printf("indicators: tracking %d instrument(s)", len(cfg.Indicators.Instruments))
	}
	bus.Subscribe(eventbus.TickEvent{}, eventbus.PriorityIndicator, func(event any) error {
		evt := event.(eventbus.TickEvent)
		indicatorEngine.OnTick(evt.Tick)
		return nil
	})
	bus.Subscribe(eventbus.TickEvent{}, eventbus.PriorityStrategy, func(event any) error {
		evt := event.(eventbus.TickEvent)
		strategies.OnTick(ctx, evt.Tick)
		return nil
	})
	bus.Subscribe(eventbus.OrderEvent{}, eventbus.PriorityDefault, func(event any) error {
		evt := event.(eventbus.OrderEvent)
		if evt.Type == eventbus.OrderPlaced {
			metrics.OrdersRouted.Inc("strategy", evt.Order.Request.StrategyID, "side", string(evt.Order.Request.Side))
		}
		return nil
	})
	bus.Subscribe(eventbus.RiskEvent{}, eventbus.PriorityDefault, func(event any) error {
		evt := event.(eventbus.RiskEvent)
		if evt.Level == eventbus.RiskCritical || evt.Level == eventbus.RiskWarning {
			metrics.RiskRejections.Inc("level", string(evt.Level))
		}
		return nil
	})
	bus.Subscribe(eventbus.PositionEvent{}, eventbus.PriorityDefault, func(event any) error {
		positions, err := kvStore.FindAllPositions(ctx)
		if err == nil {
			metrics.ActivePositions.Set(float64(len(positions)))
		}
		return nil
	})
	bus.Subscribe(eventbus.IndicatorUpdateEvent{}, eventbus.PriorityDefault, func(event any) error {
		evt := event.(eventbus.IndicatorUpdateEvent)
		for key, value := range evt.Snapshot {
			if err := tsStore.Append(ctx, "indicator."+key, evt.InstrumentToken, evt.At, value); err != nil {
				log.Printf("timeseries: append %s/%d: %v", key, evt.InstrumentToken, err)
			}
		}
		return nil
	})

	decisionQueue := writebehind.New[eventbus.DecisionEvent](
		cfg.WriteBehind.AuditQueueCapacity, "decision_event",
		audit.DecisionEventQueueStore{Store: auditStore}, auditStore)
	fillQueue := writebehind.New[domain.OrderFill](
		cfg.WriteBehind.TradeQueueCapacity, "order_fill",
		audit.OrderFillQueueStore{Store: auditStore}, auditStore)

	bus.Subscribe(eventbus.DecisionEvent{}, eventbus.PriorityDefault, func(event any) error {
		decisionQueue.Enqueue(ctx, event.(eventbus.DecisionEvent))
		return nil
	})
	bus.Subscribe(eventbus.OrderEvent{}, eventbus.PriorityDefault, func(event any) error {
		evt := event.(eventbus.OrderEvent)
		if evt.Type != eventbus.OrderFilled && evt.Type != eventbus.OrderPartiallyFilledE {
			return nil
		}
		fillQueue.Enqueue(ctx, domain.OrderFill{
			OrderID:         evt.Order.BrokerOrderID,
			InstrumentToken: evt.Order.Request.InstrumentToken,
			Quantity:        evt.Order.FilledQuantity,
			Price:           evt.Order.AverageFillPrice,
			FilledAt:        evt.At,
		})
		return nil
	})

	flusher := writebehind.NewFlusher(cfg.WriteBehind.FlushInterval, cfg.WriteBehind.MaxFlushBatch, decisionQueue, fillQueue)
	go flusher.Run(ctx)

	go runReconciliationLoop(ctx, recon, cfg.Reconciliation.Interval, metrics)
	go runMarginLoop(ctx, marginMonitor, 30*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth())
	mux.HandleFunc("/metrics", handleMetrics(reg))
	mux.HandleFunc("/api/v1/killswitch/activate", handleKillSwitchActivate(ks, kvStore, metrics))
	mux.HandleFunc("/api/v1/execute", handleExecute(executor, metrics))
	mux.HandleFunc("/api/v1/strategies/lineage", handleLineage(auditStore))

	server := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutdown signal received, draining write-behind queues...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := flusher.FlushAll(shutdownCtx); err != nil {
		log.Printf("write-behind: final flush error: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}

	log.Println("ironcondor stopped")
}

func configSource(loadedFrom string) string {
	if loadedFrom == "" {
		return "defaults"
	}
	return loadedFrom
}

func brokerBreakerConfig(cfg *config.Config) resilience.Config {
	breakerCfg := resilience.DefaultConfig("broker-gateway")
	breakerCfg.MaxFailures = cfg.Broker.BreakerMaxFail
	breakerCfg.Timeout = cfg.Broker.BreakerTimeout
	return breakerCfg
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service":"ironcondor","status":"ok"}`))
	}
}

func handleMetrics(reg *observability.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		reg.WriteText(w)
	}
}

func handleKillSwitchActivate(ks *killswitch.Switch, store *kv.Store, metrics *observability.TradingMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx := r.Context()
		positions, err := store.FindAllPositions(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		pending, err := store.FindPending(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		result := ks.Activate(ctx, pending, positions)
		metrics.KillSwitchEvents.Inc("action", "activate")
		w.Header().Set("Content-Type", "application/json")
		if result.AlreadyActive {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"already_active":true}`))
			return
		}
		w.Write([]byte(`{"already_active":false,"cancel_errors":` + strconv.Itoa(len(result.CancelErrors)) + `,"close_errors":` + strconv.Itoa(len(result.CloseErrors)) + `}`))
	}
}

// executeRequest mirrors execution.Request for JSON decoding.
type executeRequest struct {
	StrategyID  string                `json:"strategy_id"`
	Operation   string                `json:"operation"`
	Legs        []domain.OrderRequest `json:"legs"`
	Mode        string                `json:"mode"`
	FillTimeout time.Duration         `json:"fill_timeout_ms"`
}

func handleExecute(executor *execution.Executor, metrics *observability.TradingMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body executeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		result := executor.Execute(r.Context(), execution.Request{
			StrategyID:  body.StrategyID,
			Operation:   domain.ExecutionOperation(body.Operation),
			Legs:        body.Legs,
			Mode:        execution.Mode(body.Mode),
			FillTimeout: body.FillTimeout * time.Millisecond,
		})
		for _, leg := range result.Legs {
			metrics.JournalWrites.Inc("status", string(leg.Status))
		}
		w.Header().Set("Content-Type", "application/json")
		if !result.Success {
			w.WriteHeader(http.StatusConflict)
		}
		json.NewEncoder(w).Encode(result)
	}
}

func handleLineage(store morph.LineageStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		strategyID := r.URL.Query().Get("strategy_id")
		if strategyID == "" {
			http.Error(w, "missing strategy_id query parameter", http.StatusBadRequest)
			return
		}
		tree, err := morph.GetLineageTree(r.Context(), store, strategyID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tree)
	}
}

func runReconciliationLoop(ctx context.Context, recon *reconciliation.Service, interval time.Duration, metrics *observability.TradingMetrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := recon.Run(ctx, reconciliation.TriggerScheduled)
			if err != nil {
				log.Printf("reconciliation: run error: %v", err)
				continue
			}
			for _, m := range result.Mismatches {
				metrics.ReconMismatches.Inc("type", string(m.Type))
			}
		}
	}
}

func runMarginLoop(ctx context.Context, monitor *margin.Monitor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := monitor.Refresh(ctx); err != nil {
				log.Printf("margin: refresh error: %v", err)
			}
		}
	}
}

func accountStateFromStore(ctx context.Context, store *kv.Store) risk.AccountState {
	positions, err := store.FindAllPositions(ctx)
	if err != nil {
		return risk.AccountState{}
	}
	openOrders, err := store.CountPending(ctx)
	if err != nil {
		return risk.AccountState{}
	}
	return risk.AccountState{
		OpenPositions: len(positions),
		OpenOrders:    int(openOrders),
	}
}

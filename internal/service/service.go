// Package service wires the engine, feed, stores, and metrics into a
// running process. It owns the single goroutine that touches the engine.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"indicator-systemv1/config"
	"indicator-systemv1/internal/dispatch"
	"indicator-systemv1/internal/engine"
	"indicator-systemv1/internal/feed"
	"indicator-systemv1/internal/indicator"
	"indicator-systemv1/internal/metrics"
	"indicator-systemv1/internal/model"
	redisstore "indicator-systemv1/internal/store/redis"
	sqlitestore "indicator-systemv1/internal/store/sqlite"
)

// Service is the top-level orchestrator. It connects the stores, builds
// the engine with its metric hooks, registers the configured indicators,
// and runs the ingestion loop until the context is cancelled.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	msrv   *metrics.Server

	engine *engine.Engine
	ingest *feed.Ingest

	redisWriter *redisstore.Writer
	sqlWriter   *sqlitestore.Writer
	sqlReader   *sqlitestore.Reader

	// Everything the engine produces fans out through these channels so
	// persistence never blocks the ingestion loop.
	eventCh chan model.MarketEvent
	barChs  []chan model.BarRecord
	resChs  []chan model.IndicatorResult

	keys []model.SeriesKey // registered universe, in registration order

	// replaying is set while backfill feeds stored bars back through the
	// engine; those bars must not be persisted a second time. Only touched
	// before the drain loop starts.
	replaying bool
}

// New connects infrastructure and builds a fully registered engine.
// Redis and SQLite failures are downgraded to warnings so the engine can
// run standalone.
func New(cfg *config.Config, log *slog.Logger) (*Service, error) {
	svc := &Service{
		cfg:     cfg,
		log:     log,
		prom:    metrics.New(),
		health:  metrics.NewHealthStatus(),
		eventCh: make(chan model.MarketEvent, cfg.EventBuffer),
	}

	// ---- Stores ----
	if cfg.RedisEnabled {
		rw, err := redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", "error", err)
		} else {
			svc.redisWriter = rw
			svc.wireBreakerMetrics(rw.Breaker())
			rw.OnWriteDur = func(d time.Duration) {
				svc.prom.RedisWriteDur.Observe(d.Seconds())
			}
		}
	}

	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		sw, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath}, log)
		if err != nil {
			log.Warn("sqlite writer init failed, continuing without it", "error", err)
		} else {
			svc.sqlWriter = sw
			sw.OnCommitDur = func(d time.Duration) {
				svc.prom.SQLiteCommitDur.Observe(d.Seconds())
			}
		}
		sr, err := sqlitestore.NewReader(cfg.SQLitePath, log)
		if err != nil {
			log.Warn("sqlite reader init failed, no backfill", "error", err)
		} else {
			svc.sqlReader = sr
		}
	}

	// Health tracks only the stores that actually came up, so a
	// standalone run is not reported degraded forever.
	svc.health.SetStoresEnabled(svc.redisWriter != nil, svc.sqlWriter != nil)

	// ---- Engine ----
	svc.engine = engine.New(engine.Options{
		EmitUpdates:   cfg.EmitUpdates,
		HistoryWindow: cfg.HistoryWindow,
		Logger:        log,
		OnFault: func(f dispatch.Fault) {
			svc.prom.SubscriptionFaults.Inc()
			log.Error("subscription fault", "id", f.ID, "error", f.Err)
		},
		OnLateEvent: func(key model.SeriesKey) {
			svc.prom.LateEvents.Inc()
		},
		OnSuppressed: func() {
			svc.prom.StrictSuppressions.Inc()
		},
		OnFinalBar: func(key model.SeriesKey, bar model.Bar) {
			svc.prom.BarsFinalized.WithLabelValues(key.TF.String()).Inc()
			svc.fanOutBar(model.BarRecord{Key: key, Bar: bar})
		},
	})

	if err := svc.registerIndicators(); err != nil {
		return nil, err
	}

	// ---- Feed ----
	ing, err := feed.New(feed.Config{
		URL:        cfg.FeedURL,
		ClientID:   cfg.FeedClientID,
		TOTPSecret: cfg.FeedTOTPSecret,
	}, log)
	if err != nil {
		return nil, err
	}
	ing.OnConnect = func() { svc.health.SetFeedConnected(true) }
	ing.OnReconnect = func() {
		svc.health.SetFeedConnected(false)
		svc.prom.FeedReconnects.Inc()
	}
	svc.ingest = ing

	svc.msrv = metrics.NewServer(cfg.MetricsAddr, svc.health, log)
	return svc, nil
}

// registerIndicators builds the subscription set from config: every
// single-series spec on every symbol and timeframe, plus smoothed
// spreads for the configured pairs on the first duration timeframe.
func (svc *Service) registerIndicators() error {
	tfs, err := svc.cfg.ParseTimeframes()
	if err != nil {
		return err
	}

	publish := svc.publishResult
	for _, sym := range svc.cfg.Symbols {
		for _, tf := range tfs {
			svc.keys = append(svc.keys, model.SeriesKey{Symbol: sym, TF: tf})
			for _, spec := range svc.cfg.ParseIndicators() {
				state, name, err := indicator.FromSpec(spec)
				if err != nil {
					return err
				}
				_, err = svc.engine.RegisterStatefulIndicator(sym, tf, state, publish,
					model.SubscriptionOptions{Name: name})
				if err != nil {
					return errors.Wrapf(err, "register %s on %s:%s", name, sym, tf)
				}
			}
		}
	}

	pairs, err := svc.cfg.ParseSpreadPairs()
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}
	var spreadTF model.Timeframe
	for _, tf := range tfs {
		if !tf.ByTicks() {
			spreadTF = tf
			break
		}
	}
	if !spreadTF.Valid() {
		return errors.New("spread pairs configured but no duration timeframe enabled")
	}
	for _, p := range pairs {
		left := model.SeriesKey{Symbol: p.Left, TF: spreadTF}
		right := model.SeriesKey{Symbol: p.Right, TF: spreadTF}
		state := indicator.NewSmoothedSpread(left, right, svc.cfg.SpreadSmoothing)
		name := "SPREAD_" + p.Left + "_" + p.Right
		_, err := svc.engine.RegisterMultiSeriesIndicator(left, []model.SeriesKey{right}, state, publish,
			model.SubscriptionOptions{Name: name, Alignment: model.AlignStrict})
		if err != nil {
			return errors.Wrapf(err, "register %s", name)
		}
	}
	return nil
}

// Run starts all subsystems and blocks in the ingestion loop until ctx
// is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	svc.msrv.Start()
	svc.startStoreLoops(ctx)
	svc.startLiveness(ctx)

	// Stores are draining before restore/backfill so replayed results
	// reach redis and sqlite too.
	svc.restoreEngine(ctx)
	svc.backfill()

	go func() {
		if err := svc.ingest.Start(ctx, svc.eventCh); err != nil {
			svc.log.Error("feed stopped", "error", err)
		}
	}()

	svc.log.Info("indicator stream service running",
		"symbols", svc.cfg.Symbols,
		"timeframes", svc.cfg.EnabledTFs,
		"subscriptions", svc.engine.Subscriptions())

	svc.drainLoop(ctx)
	svc.shutdown()
	return nil
}

// drainLoop is the only goroutine that touches the engine once Run has
// started: events, clock advances, and snapshots all funnel through it.
func (svc *Service) drainLoop(ctx context.Context) {
	advance := time.NewTicker(time.Duration(svc.cfg.AdvanceIntervalMs) * time.Millisecond)
	defer advance.Stop()
	snapshot := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-svc.eventCh:
			svc.handleEvent(ev)

		case now := <-advance.C:
			if err := svc.engine.AdvanceTime(now); err != nil {
				svc.log.Error("advance time", "error", err)
			}

		case <-snapshot.C:
			svc.saveSnapshot(ctx)
		}
	}
}

func (svc *Service) handleEvent(ev model.MarketEvent) {
	start := time.Now()
	svc.health.SetLastEventTime(start)

	var err error
	switch {
	case ev.Trade != nil:
		svc.prom.TradesTotal.Inc()
		err = svc.engine.OnTrade(*ev.Trade)
	case ev.Quote != nil:
		svc.prom.QuotesTotal.Inc()
		err = svc.engine.OnQuote(*ev.Quote)
	default:
		return
	}
	svc.prom.IngestDur.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, model.ErrBadEvent) {
			svc.prom.BadEvents.Inc()
			svc.log.Warn("bad event dropped", "error", err)
			return
		}
		svc.log.Error("ingest", "error", err)
	}
}

// publishResult is the callback behind every subscription.
func (svc *Service) publishResult(r model.IndicatorResult) {
	if r.Final {
		svc.prom.ValuesTotal.Inc()
	} else {
		svc.prom.PreviewsTotal.Inc()
	}
	for _, ch := range svc.resChs {
		select {
		case ch <- r:
		default:
			svc.log.Warn("result channel full, dropping", "name", r.Name)
		}
	}
}

func (svc *Service) fanOutBar(rec model.BarRecord) {
	if svc.replaying {
		return
	}
	for _, ch := range svc.barChs {
		select {
		case ch <- rec:
		default:
			svc.log.Warn("bar channel full, dropping", "key", rec.Key.Key())
		}
	}
}

// startStoreLoops spawns one bar and one result drain per live store.
func (svc *Service) startStoreLoops(ctx context.Context) {
	if svc.redisWriter != nil {
		barCh := make(chan model.BarRecord, 4096)
		resCh := make(chan model.IndicatorResult, 4096)
		svc.barChs = append(svc.barChs, barCh)
		svc.resChs = append(svc.resChs, resCh)
		go svc.redisWriter.Run(ctx, barCh)
		go svc.redisWriter.RunResults(ctx, resCh)
	}
	if svc.sqlWriter != nil {
		barCh := make(chan model.BarRecord, 4096)
		resCh := make(chan model.IndicatorResult, 4096)
		svc.barChs = append(svc.barChs, barCh)
		svc.resChs = append(svc.resChs, resCh)
		go svc.sqlWriter.Run(ctx, barCh)
		go svc.sqlWriter.RunResults(ctx, resCh)
	}
}

func (svc *Service) startLiveness(ctx context.Context) {
	var rdb *goredis.Client
	if svc.redisWriter != nil {
		rdb = svc.redisWriter.Client()
	}
	var db *sql.DB
	if svc.sqlWriter != nil {
		db = svc.sqlWriter.DB()
	}
	svc.health.StartLivenessChecker(ctx, rdb, db, 10*time.Second)
}

// restoreEngine seeds subscription state from the most recent snapshot,
// preferring redis, falling back to sqlite. Missing snapshots are a
// cold start, not an error.
func (svc *Service) restoreEngine(ctx context.Context) {
	var snap []byte
	if svc.redisWriter != nil {
		b, err := svc.redisWriter.LoadSnapshot(ctx)
		if err != nil {
			svc.log.Warn("redis snapshot read failed", "error", err)
		}
		snap = b
	}
	if snap == nil && svc.sqlReader != nil {
		b, err := svc.sqlReader.ReadLatestSnapshot()
		if err != nil {
			svc.log.Warn("sqlite snapshot read failed", "error", err)
		}
		snap = b
	}
	if snap == nil {
		svc.log.Info("no snapshot found, cold start")
		return
	}
	if err := svc.engine.RestoreSnapshotJSON(snap); err != nil {
		svc.log.Warn("snapshot restore failed, cold start", "error", err)
	}
}

// backfill replays persisted bars through the engine so history windows
// and cold indicator states are warm before live events arrive. Bounded
// to one history window per series.
func (svc *Service) backfill() {
	if svc.sqlReader == nil {
		return
	}
	svc.replaying = true
	defer func() { svc.replaying = false }()

	total := 0
	for _, key := range svc.keys {
		afterTS := int64(0)
		if !key.TF.ByTicks() {
			span := int64(svc.cfg.HistoryWindow * key.TF.Secs)
			afterTS = time.Now().Unix() - span
		}
		bars, err := svc.sqlReader.ReadBars(key, afterTS)
		if err != nil {
			svc.log.Warn("backfill read failed", "key", key.Key(), "error", err)
			continue
		}
		for _, bar := range bars {
			if err := svc.engine.ReplayFinalBar(key, bar); err != nil {
				svc.log.Warn("backfill replay failed", "key", key.Key(), "error", err)
				break
			}
		}
		total += len(bars)
	}
	if total > 0 {
		svc.log.Info("backfilled historical bars", "bars", total, "series", len(svc.keys))
	}
}

func (svc *Service) saveSnapshot(ctx context.Context) {
	start := time.Now()
	snap, err := svc.engine.SnapshotJSON()
	if err != nil {
		svc.log.Error("snapshot build failed", "error", err)
		return
	}
	if svc.redisWriter != nil {
		if err := svc.redisWriter.SaveSnapshot(ctx, snap); err != nil {
			svc.log.Warn("redis snapshot save failed", "error", err)
		}
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshot(snap); err != nil {
			svc.log.Warn("sqlite snapshot save failed", "error", err)
		}
	}
	svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
}

func (svc *Service) wireBreakerMetrics(cb *redisstore.CircuitBreaker) {
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		svc.log.Warn("redis circuit breaker transition", "from", from.String(), "to", to.String())
	}
}

// shutdown takes a final snapshot and closes every connection.
func (svc *Service) shutdown() {
	svc.log.Info("shutting down, saving final snapshot")

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.saveSnapshot(shutCtx)

	svc.msrv.Stop(shutCtx)
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	if svc.redisWriter != nil {
		svc.redisWriter.Close()
	}
	svc.log.Info("shutdown complete")
}

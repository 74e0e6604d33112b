// Package redis publishes finalized bars and indicator results to Redis
// streams, latest-value keys and pubsub channels, and stores engine state
// checkpoints. All writes go through a circuit breaker so a Redis outage
// degrades persistence instead of stalling the engine drain loop.
package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"indicator-systemv1/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	snapshotKey      = "indstream:snapshot:latest"

	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes bars, indicator results and snapshots to Redis.
type Writer struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	log     *slog.Logger

	// OnWriteDur, when set, observes the duration of each pipeline write.
	OnWriteDur func(d time.Duration)
}

// New creates a Redis Writer and pings the server.
func New(cfg WriterConfig, log *slog.Logger) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}

	log.Info("redis connected", "addr", cfg.Addr)
	return &Writer{
		client:  client,
		breaker: NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout),
		log:     log,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the write circuit breaker for metrics wiring.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// Run reads finalized bars from barCh and writes them to Redis. Blocks
// until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.BarRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-barCh:
			if !ok {
				return
			}
			w.WriteBar(ctx, rec)
		}
	}
}

// RunResults drains indicator results, batching whatever is immediately
// pending into one pipeline per write.
func (w *Writer) RunResults(ctx context.Context, resCh <-chan model.IndicatorResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-resCh:
			if !ok {
				return
			}
			batch := []model.IndicatorResult{r}
		drain:
			for {
				select {
				case more, ok := <-resCh:
					if !ok {
						break drain
					}
					batch = append(batch, more)
				default:
					break drain
				}
			}
			w.WriteResults(ctx, batch)
		}
	}
}

// WriteBar performs the pipelined XADD + SET + PUBLISH for one finalized
// bar.
func (w *Writer) WriteBar(ctx context.Context, rec model.BarRecord) {
	seriesKey := rec.Key.Key()
	jsonData := string(rec.Bar.JSON())

	start := time.Now()
	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "bar:" + seriesKey,
			MaxLen: streamMaxLen(rec.Key.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, "bar:latest:"+seriesKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, "pub:bar:"+seriesKey, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if w.OnWriteDur != nil {
		w.OnWriteDur(time.Since(start))
	}
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		w.log.Warn("redis bar pipeline error", "series", seriesKey, "err", err)
	}
}

// WriteResults writes a batch of indicator results in a single pipeline.
// Final results get XADD + SET + PUBLISH; previews are pubsub-only so they
// never pollute the stream history.
func (w *Writer) WriteResults(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}

	start := time.Now()
	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		for i := range results {
			r := &results[i]
			jsonData := string(r.JSON())
			if !r.Final {
				pipe.Publish(ctx, r.PubSubChannel(), jsonData)
				continue
			}
			streamKey := r.StreamKey()
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: streamKey,
				MaxLen: streamMaxLen(r.Series.TF),
				Approx: true,
				Values: map[string]interface{}{"data": jsonData},
			})
			pipe.Set(ctx, streamKey+":latest", jsonData, defaultLatestTTL)
			pipe.Publish(ctx, r.PubSubChannel(), jsonData)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if w.OnWriteDur != nil {
		w.OnWriteDur(time.Since(start))
	}
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		w.log.Warn("redis result pipeline error", "count", len(results), "err", err)
	}
}

// SaveSnapshot stores an engine checkpoint blob. Unlike bar writes this
// surfaces the error: callers decide whether a failed checkpoint matters.
func (w *Writer) SaveSnapshot(ctx context.Context, data []byte) error {
	return w.breaker.Execute(func() error {
		return w.client.Set(ctx, snapshotKey, data, 0).Err()
	})
}

// LoadSnapshot fetches the latest engine checkpoint. Returns nil, nil when
// none exists.
func (w *Writer) LoadSnapshot(ctx context.Context) ([]byte, error) {
	data, err := w.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "redis load snapshot")
	}
	return data, nil
}

// streamMaxLen keeps roughly 3h of duration bars, with a floor, and a flat
// cap for tick-count series whose wall-clock rate is unknown.
func streamMaxLen(tf model.Timeframe) int64 {
	if tf.ByTicks() {
		return 2000
	}
	maxLen := int64(10800/tf.Secs) + 100
	if maxLen < 200 {
		maxLen = 200
	}
	return maxLen
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

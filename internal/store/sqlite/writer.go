// Package sqlite persists finalized bars, indicator values and engine
// checkpoints to a local SQLite database, and reads them back for backfill
// on startup.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"indicator-systemv1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	snapshotsRetained = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/bars.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db  *sql.DB
	log *slog.Logger

	// OnCommitDur, when set, observes the duration of each batch commit.
	OnCommitDur func(d time.Duration)
}

// New creates a Writer, initializing the database with WAL mode and schema.
func New(cfg WriterConfig, log *slog.Logger) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, errors.Wrap(err, "sqlite schema")
	}

	log.Info("sqlite opened", "path", cfg.DBPath)
	return &Writer{db: db, log: log}, nil
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol      TEXT    NOT NULL,
			tf          TEXT    NOT NULL,
			start_ts    INTEGER NOT NULL,
			end_ts      INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      REAL,
			trade_count INTEGER,
			PRIMARY KEY (symbol, tf, end_ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_values (
			name    TEXT    NOT NULL,
			symbol  TEXT    NOT NULL,
			tf      TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			value   REAL    NOT NULL,
			outputs TEXT,
			PRIMARY KEY (name, symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS engine_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run reads finalized bars from barCh and inserts them in batched
// transactions. Flushes every defaultBatchSize bars OR every
// defaultFlushDelay, whichever comes first. Blocks until ctx is cancelled
// or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.BarRecord) {
	batch := make([]model.BarRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBars(batch); err != nil {
			w.log.Warn("sqlite bar batch insert error", "err", err)
		} else {
			w.log.Debug("sqlite bars committed", "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) insertBars(recs []model.BarRecord) error {
	defer w.observeCommit(time.Now())
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, tf, start_ts, end_ts, open, high, low, close, volume, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		b := rec.Bar
		_, err := stmt.Exec(rec.Key.Symbol, rec.Key.TF.String(), b.Start.Unix(), b.End.Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// RunResults reads indicator results and inserts the final ones in batched
// transactions. Previews are never persisted.
func (w *Writer) RunResults(ctx context.Context, resCh <-chan model.IndicatorResult) {
	batch := make([]model.IndicatorResult, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertResults(batch); err != nil {
			w.log.Warn("sqlite result batch insert error", "err", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case r, ok := <-resCh:
			if !ok {
				flush()
				return
			}
			if !r.Final {
				continue
			}
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) insertResults(results []model.IndicatorResult) error {
	defer w.observeCommit(time.Now())
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO indicator_values (name, symbol, tf, ts, value, outputs)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		var outputs any
		if len(r.Outputs) > 0 {
			data, err := json.Marshal(r.Outputs)
			if err != nil {
				tx.Rollback()
				return err
			}
			outputs = string(data)
		}
		_, err := stmt.Exec(r.Name, r.Series.Symbol, r.Series.TF.String(), r.TS.Unix(), r.Value, outputs)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (w *Writer) observeCommit(start time.Time) {
	if w.OnCommitDur != nil {
		w.OnCommitDur(time.Since(start))
	}
}

// SaveSnapshot stores an engine checkpoint blob, pruning old ones.
func (w *Writer) SaveSnapshot(data []byte) error {
	if _, err := w.db.Exec(`INSERT INTO engine_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return errors.Wrap(err, "sqlite insert snapshot")
	}
	_, err := w.db.Exec(`DELETE FROM engine_snapshots WHERE id NOT IN (SELECT id FROM engine_snapshots ORDER BY created_at DESC, id DESC LIMIT ?)`, snapshotsRetained)
	if err != nil {
		w.log.Warn("sqlite prune snapshots", "err", err)
	}
	return nil
}

// LastEndTS returns the latest stored end timestamp for a series, 0 when
// the series has no bars.
func (w *Writer) LastEndTS(key model.SeriesKey) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(end_ts) FROM bars WHERE symbol = ? AND tf = ?`,
		key.Symbol, key.TF.String(),
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

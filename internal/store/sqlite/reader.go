package sqlite

import (
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"indicator-systemv1/internal/model"
)

// Reader provides read-only access for backfill and snapshot restore.
type Reader struct {
	db  *sql.DB
	log *slog.Logger
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string, log *slog.Logger) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open reader")
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Info("sqlite reader opened", "path", dbPath)
	return &Reader{db: db, log: log}, nil
}

// ReadBars reads stored bars of one series finalized after afterTS,
// ordered by end time ascending for correct replay order.
func (r *Reader) ReadBars(key model.SeriesKey, afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT symbol, start_ts, end_ts, open, high, low, close, volume, trade_count
		FROM bars
		WHERE symbol = ? AND tf = ? AND end_ts > ?
		ORDER BY end_ts ASC
	`, key.Symbol, key.TF.String(), afterTS)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query bars")
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var startTS, endTS int64
		var volume sql.NullFloat64
		var count sql.NullInt64
		if err := rows.Scan(&b.Symbol, &startTS, &endTS, &b.Open, &b.High, &b.Low, &b.Close, &volume, &count); err != nil {
			return nil, errors.Wrap(err, "sqlite scan bars")
		}
		b.Start = time.Unix(startTS, 0).UTC()
		b.End = time.Unix(endTS, 0).UTC()
		b.Volume = volume.Float64
		b.TradeCount = int(count.Int64)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadLatestSnapshot loads the most recent engine checkpoint. Returns
// nil, nil when none exists.
func (r *Reader) ReadLatestSnapshot() ([]byte, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM engine_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "sqlite read snapshot")
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"patternboard/internal/model"
)

// Reader serves the seed snapshot for one symbol from the candles table.
type Reader struct {
	db     *sql.DB
	symbol string
	limit  int
}

// Ensure Reader implements the SnapshotSource interface.
var _ model.SnapshotSource = (*Reader)(nil)

// NewReader opens a read-only SQLite connection. limit caps the seed at the
// newest N candles (default 500).
func NewReader(dbPath, symbol string, limit int) (*Reader, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if limit <= 0 {
		limit = 500
	}

	slog.Info("opened seed database",
		slog.String("component", "sqlite"),
		slog.String("path", dbPath),
		slog.String("symbol", symbol),
	)
	return &Reader{db: db, symbol: symbol, limit: limit}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// FetchSnapshot returns the newest candles for the symbol, ascending by time.
// A symbol with no rows yields an empty, non-nil slice.
func (r *Reader) FetchSnapshot(ctx context.Context) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT time_ms, open, high, low, close FROM (
			SELECT time_ms, open, high, low, close
			FROM candles
			WHERE symbol = ?
			ORDER BY time_ms DESC
			LIMIT ?
		) ORDER BY time_ms ASC
	`, r.symbol, r.limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	candles := make([]model.Candle, 0, r.limit)
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

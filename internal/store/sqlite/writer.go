package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"patternboard/internal/model"
)

// Writer populates a seed database. The dashboard itself never writes; this
// is used by the feed simulator and tests.
type Writer struct {
	db *sql.DB
}

// NewWriter opens (creating if needed) a seed database and ensures the schema.
func NewWriter(dbPath string) (*Writer, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("opened seed database for writing", slog.String("component", "sqlite"), slog.String("path", dbPath))
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol  TEXT    NOT NULL,
			time_ms INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			PRIMARY KEY (symbol, time_ms)
		);
	`)
	return err
}

// WriteCandles upserts candles for a symbol in one transaction.
func (w *Writer) WriteCandles(ctx context.Context, symbol string, candles []model.Candle) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, time_ms, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, time_ms) DO UPDATE SET
			open = excluded.open, high = excluded.high,
			low = excluded.low, close = excluded.close
	`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, c.Time, c.Open, c.High, c.Low, c.Close); err != nil {
			return fmt.Errorf("sqlite insert candle %d: %w", c.Time, err)
		}
	}
	return tx.Commit()
}

// Close closes the writer.
func (w *Writer) Close() error {
	return w.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"chartdesk/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// It persists every candle batch served to a pane so history survives
// restarts and remains available when all providers are down.
type Writer struct {
	db *sql.DB

	// OnCommit, when set, receives the duration of each committed batch
	// transaction, e.g. for a latency histogram.
	OnCommit func(d time.Duration)
}

// Batch is one provider response queued for persistence.
type Batch struct {
	Source    string
	Symbol    string
	Timeframe model.Timeframe
	Candles   model.Series
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			source   TEXT    NOT NULL,
			symbol   TEXT    NOT NULL,
			tf       TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL    NOT NULL,
			PRIMARY KEY (source, symbol, tf, ts)
		);
	`)
	return err
}

// Run reads batches from batchCh and inserts them in batched transactions.
// Flushes every defaultBatchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or batchCh is closed.
func (w *Writer) Run(ctx context.Context, batchCh <-chan Batch) {
	pending := make([]Batch, 0, 8)
	pendingBars := 0
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatches(pending); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", pendingBars, time.Since(start))
		}
		pending = pending[:0]
		pendingBars = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case b, ok := <-batchCh:
			if !ok {
				flush()
				return
			}
			pending = append(pending, b)
			pendingBars += len(b.Candles)
			if pendingBars >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveBatch persists one batch synchronously in a single transaction.
func (w *Writer) SaveBatch(b Batch) error {
	return w.insertBatches([]Batch{b})
}

// insertBatches writes all queued batches in a single transaction. Stored
// candles are immutable, so replays insert-or-ignore on the composite key.
func (w *Writer) insertBatches(batches []Batch) error {
	start := time.Now()
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO candles (source, symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range batches {
		for _, c := range b.Candles {
			_, err := stmt.Exec(b.Source, b.Symbol, string(b.Timeframe), c.Time, c.Open, c.High, c.Low, c.Close, c.Volume)
			if err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if w.OnCommit != nil {
		w.OnCommit(time.Since(start))
	}
	return nil
}

// LastTimestamp returns the newest stored candle timestamp for an
// instrument, or 0 if none exist.
func (w *Writer) LastTimestamp(source, symbol string, tf model.Timeframe) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE source = ? AND symbol = ? AND tf = ?`,
		source, symbol, string(tf),
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

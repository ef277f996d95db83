package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	"chartdesk/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored candle history, used to serve
// panes when every live provider is unavailable.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns up to limit of the newest stored candles for an
// instrument, ordered by timestamp ascending.
func (r *Reader) ReadCandles(source, symbol string, tf model.Timeframe, limit int) (model.Series, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE source = ? AND symbol = ? AND tf = ?
		ORDER BY ts DESC
		LIMIT ?
	`, source, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	series, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	reverse(series)
	return series, nil
}

// ReadBefore returns up to limit stored candles strictly older than the
// given timestamp, ordered ascending. It backs pane history extension when
// providers cannot serve the range.
func (r *Reader) ReadBefore(source, symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE source = ? AND symbol = ? AND tf = ? AND ts < ?
		ORDER BY ts DESC
		LIMIT ?
	`, source, symbol, string(tf), before, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles before: %w", err)
	}
	defer rows.Close()

	series, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	reverse(series)
	return series, nil
}

// ReadAnyCandles is ReadCandles without the source filter, for serving a
// pane when the provider that originally filled the store is unknown.
// Duplicate timestamps across sources collapse to the newest-read row.
func (r *Reader) ReadAnyCandles(symbol string, tf model.Timeframe, limit int) (model.Series, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query any candles: %w", err)
	}
	defer rows.Close()

	series, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	reverse(series)
	return dedupeByTime(series), nil
}

// ReadAnyBefore is ReadBefore without the source filter.
func (r *Reader) ReadAnyBefore(symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ? AND ts < ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, string(tf), before, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query any candles before: %w", err)
	}
	defer rows.Close()

	series, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	reverse(series)
	return dedupeByTime(series), nil
}

func dedupeByTime(s model.Series) model.Series {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, c := range s[1:] {
		if c.Time != out[len(out)-1].Time {
			out = append(out, c)
		}
	}
	return out
}

func scanCandles(rows *sql.Rows) (model.Series, error) {
	var series model.Series
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		series = append(series, c)
	}
	return series, rows.Err()
}

func reverse(s model.Series) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"shapefinder/internal/model"
	"shapefinder/internal/tracker"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backfill and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

const candleColumns = `token, exchange, tf, ts, open, high, low, close, volume, count`

func scanCandles(rows *sql.Rows) ([]model.TFCandle, error) {
	defer rows.Close()
	var candles []model.TFCandle
	for rows.Next() {
		var c model.TFCandle
		var tsUnix int64
		var volume, count sql.NullInt64
		if err := rows.Scan(&c.Token, &c.Exchange, &c.TF, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &volume, &count); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_tf: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Volume = volume.Int64
		c.Count = int(count.Int64)
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadTFCandles reads TF candles for one exchange:token and TF after afterTS,
// oldest first.
func (r *Reader) ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(`
		SELECT `+candleColumns+`
		FROM candles_tf
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles_tf: %w", err)
	}
	return scanCandles(rows)
}

// ReadAllTFCandles reads every instrument's candles on tf after afterTS,
// ordered by timestamp so instruments interleave as they did live.
func (r *Reader) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(`
		SELECT `+candleColumns+`
		FROM candles_tf
		WHERE tf = ? AND ts > ?
		ORDER BY ts ASC, exchange ASC, token ASC
	`, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all candles_tf: %w", err)
	}
	return scanCandles(rows)
}

// Instruments lists the "exchange:token" keys that have candles on tf.
func (r *Reader) Instruments(tf int) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT exchange, token FROM candles_tf WHERE tf = ? ORDER BY exchange, token
	`, tf)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var ex, tok string
		if err := rows.Scan(&ex, &tok); err != nil {
			return nil, err
		}
		keys = append(keys, model.InstrumentKey(ex, tok))
	}
	return keys, rows.Err()
}

// ReadLatestSnapshotJSON returns the newest stored snapshot, or nil, nil.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	var data string
	err := r.db.QueryRow(`SELECT data FROM shape_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// ReadLatestSnapshot loads the most recent tracker snapshot from SQLite.
func (r *Reader) ReadLatestSnapshot() (*tracker.EngineSnapshot, error) {
	data, err := r.ReadLatestSnapshotJSON()
	if err != nil || data == nil {
		return nil, err
	}

	var snap tracker.EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

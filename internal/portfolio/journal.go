package portfolio

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists paper fills to SQLite for later analysis.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		action      TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		token       TEXT NOT NULL,
		tf          INTEGER NOT NULL,
		qty         INTEGER NOT NULL,
		price       INTEGER NOT NULL,
		slippage    INTEGER DEFAULT 0,
		realized    INTEGER DEFAULT 0,
		reason      TEXT,
		ts          INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_token ON fills(exchange, token, tf);
	CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened fill journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(f Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (order_id, strategy, action, exchange, token, tf, qty, price, slippage, realized, reason, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID,
		f.Signal.StrategyName,
		string(f.Signal.Action),
		f.Signal.Exchange,
		f.Signal.Token,
		f.Signal.TF,
		f.Qty,
		f.Price,
		f.Slippage,
		f.Realized,
		f.Signal.Reason,
		f.TS.Unix(),
	)
	return err
}

// FillRecord is a row from the fills table.
type FillRecord struct {
	ID       int64     `json:"id"`
	OrderID  string    `json:"order_id"`
	Strategy string    `json:"strategy"`
	Action   string    `json:"action"`
	Exchange string    `json:"exchange"`
	Token    string    `json:"token"`
	TF       int       `json:"tf"`
	Qty      int64     `json:"qty"`
	Price    int64     `json:"price"`
	Slippage int64     `json:"slippage"`
	Realized int64     `json:"realized"`
	Reason   string    `json:"reason"`
	TS       time.Time `json:"ts"`
}

// Recent returns the last n fills, newest first.
func (j *Journal) Recent(n int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, strategy, action, exchange, token, tf, qty, price, slippage, realized, reason, ts
		 FROM fills ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Strategy, &r.Action, &r.Exchange, &r.Token,
			&r.TF, &r.Qty, &r.Price, &r.Slippage, &r.Realized, &r.Reason, &ts); err != nil {
			return nil, err
		}
		r.TS = time.Unix(ts, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

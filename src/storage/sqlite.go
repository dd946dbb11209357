package storage

import (
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS merged_trades (
			symbol TEXT,
			first_timestamp INTEGER,
			last_timestamp INTEGER,
			weighted_avg_price REAL,
			total_volume REAL,
			total_notional REAL,
			trade_count INTEGER,
			last_sequence_id TEXT,
			last_side TEXT,
			PRIMARY KEY (symbol, first_timestamp)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create merged_trades: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS snapshots (
			taken_at INTEGER PRIMARY KEY,
			payload TEXT
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create snapshots: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveMergedTradesBulk(trades []models.MMergedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO merged_trades (symbol, first_timestamp, last_timestamp, weighted_avg_price, total_volume, total_notional, trade_count, last_sequence_id, last_side)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, first_timestamp) DO UPDATE SET
			last_timestamp = excluded.last_timestamp,
			weighted_avg_price = excluded.weighted_avg_price,
			total_volume = excluded.total_volume,
			total_notional = excluded.total_notional,
			trade_count = excluded.trade_count,
			last_sequence_id = excluded.last_sequence_id,
			last_side = excluded.last_side
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.Exec(t.Symbol, t.FirstTimestampMs, t.LastTimestampMs, t.WeightedAvgPrice, t.TotalVolume, t.TotalNotional, t.TradeCount, t.LastSequenceID, string(t.LastSide))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

// SaveSnapshot stores the snapshot as a JSON document keyed by capture time.
func (d *AsyncSQLiteDB) SaveSnapshot(snapshot models.MSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	_, err = d.DB.Exec(`
		INSERT INTO snapshots (taken_at, payload)
		VALUES (?, ?)
		ON CONFLICT (taken_at) DO UPDATE SET payload = excluded.payload
	`, snapshot.Timestamp.UnixMilli(), string(payload))
	return err
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) CleanupOldData() error {
	retentionDays := d.Config.Storage.RetentionDays
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()

	d.Logger.Info("Cleaning up data older than %d days (timestamp < %d)...", retentionDays, cutoff)

	if _, err := d.DB.Exec("DELETE FROM merged_trades WHERE last_timestamp < ?", cutoff); err != nil {
		d.Logger.Error("Cleanup merged_trades error: %v", err)
	}
	if _, err := d.DB.Exec("DELETE FROM snapshots WHERE taken_at < ?", cutoff); err != nil {
		d.Logger.Error("Cleanup snapshots error: %v", err)
	}

	d.Logger.Info("Cleanup completed")
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

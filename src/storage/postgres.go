package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	// Schema is derived from the executable name so several observer
	// instances can share one database.
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."merged_trades" (
			symbol TEXT,
			first_timestamp BIGINT,
			last_timestamp BIGINT,
			weighted_avg_price DOUBLE PRECISION,
			total_volume DOUBLE PRECISION,
			total_notional DOUBLE PRECISION,
			trade_count INTEGER,
			last_sequence_id TEXT,
			last_side TEXT,
			PRIMARY KEY (symbol, first_timestamp)
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create merged_trades: %w", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."snapshots" (
			taken_at BIGINT PRIMARY KEY,
			payload JSONB
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create snapshots: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveMergedTradesBulk(trades []models.MMergedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO "%s"."merged_trades" (symbol, first_timestamp, last_timestamp, weighted_avg_price, total_volume, total_notional, trade_count, last_sequence_id, last_side)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, first_timestamp) DO UPDATE SET
			last_timestamp = EXCLUDED.last_timestamp,
			weighted_avg_price = EXCLUDED.weighted_avg_price,
			total_volume = EXCLUDED.total_volume,
			total_notional = EXCLUDED.total_notional,
			trade_count = EXCLUDED.trade_count,
			last_sequence_id = EXCLUDED.last_sequence_id,
			last_side = EXCLUDED.last_side
	`, d.Schema)
	stmt, err := tx.Prepare(query)
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

// SaveSnapshot stores the snapshot as a JSONB document keyed by capture time.
func (d *PostgresDB) SaveSnapshot(snapshot models.MSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO "%s"."snapshots" (taken_at, payload)
		VALUES ($1, $2)
		ON CONFLICT (taken_at) DO UPDATE SET payload = EXCLUDED.payload
	`, d.Schema)
	_, err = d.DB.Exec(query, snapshot.Timestamp.UnixMilli(), string(payload))
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData() error {
	retentionDays := d.Config.Storage.RetentionDays
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()

	d.Logger.Info("Cleaning up data older than %d days (timestamp < %d)...", retentionDays, cutoff)

	if _, err := d.DB.Exec(fmt.Sprintf(`DELETE FROM "%s"."merged_trades" WHERE last_timestamp < $1`, d.Schema), cutoff); err != nil {
		d.Logger.Error("Cleanup merged_trades error: %v", err)
	}
	if _, err := d.DB.Exec(fmt.Sprintf(`DELETE FROM "%s"."snapshots" WHERE taken_at < $1`, d.Schema), cutoff); err != nil {
		d.Logger.Error("Cleanup snapshots error: %v", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

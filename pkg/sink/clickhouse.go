package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/errors"
	"github.com/glucosync/glucosync/pkg/models"
)

// ClickHouseConfig configures the ClickHouse record sink.
type ClickHouseConfig struct {
	DSN          string `yaml:"dsn" json:"dsn"`
	Database     string `yaml:"database" json:"database"`
	Table        string `yaml:"table" json:"table"`
	CreateTables bool   `yaml:"create_tables" json:"create_tables"`
}

// ClickHouseSink batch-inserts normalized records. Dedup relies on the
// deterministic record IDs together with a ReplacingMergeTree table,
// so re-emitting an overlapping window is harmless.
type ClickHouseSink struct {
	db       *sql.DB
	database string
	table    string
	logger   *zap.Logger
}

// NewClickHouseSink connects and optionally creates the records table.
func NewClickHouseSink(cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database == "" {
		cfg.Database = "glucosync"
	}
	if cfg.Table == "" {
		cfg.Table = "records"
	}

	db, err := sql.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open clickhouse connection")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping clickhouse")
	}

	s := &ClickHouseSink{
		db:       db,
		database: cfg.Database,
		table:    cfg.Table,
		logger:   logger.With(zap.String("component", "clickhouse_sink")),
	}

	if cfg.CreateTables {
		if err := s.createTablesIfNotExist(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Emit inserts the batch inside one transaction.
func (s *ClickHouseSink) Emit(ctx context.Context, records []models.GlucoseRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to begin insert transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.%s (id, timestamp, value, trend, source, raw)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.database, s.table))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to prepare insert statement")
	}
	defer stmt.Close()

	for _, rec := range records {
		raw := ""
		if len(rec.Raw) > 0 {
			if b, err := json.Marshal(rec.Raw); err == nil {
				raw = string(b)
			}
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Timestamp, rec.Value, string(rec.Trend), rec.Source, raw); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to insert record")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to commit insert transaction")
	}

	s.logger.Debug("batch inserted", zap.Int("records", len(records)))
	return nil
}

func (s *ClickHouseSink) createTablesIfNotExist() error {
	if _, err := s.db.Exec(fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, s.database)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create database")
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			id String,
			timestamp DateTime64(3, 'UTC'),
			value Float64,
			trend String,
			source String,
			raw String
		) ENGINE = ReplacingMergeTree()
		ORDER BY (source, timestamp, id)
	`, s.database, s.table))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create records table")
	}
	return nil
}

// Close releases the connection pool.
func (s *ClickHouseSink) Close() error {
	return s.db.Close()
}

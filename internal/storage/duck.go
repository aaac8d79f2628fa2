package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vitalstream/backend/internal/models"
)

// ResultStore persists upload results, extracted indicators and
// genetic records in a DuckDB file. The upload_results table is the
// system of record for terminal upload outcomes; the in-memory
// session registry is only a cache over it.
type ResultStore struct {
	db     *sql.DB
	dbPath string
}

// NewResultStore opens (or creates) the database at dbPath.
func NewResultStore(dbPath string) (*ResultStore, error) {
	fmt.Printf("[ResultStore] Opening database at: %s\n", dbPath)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='1GB'",
			"PRAGMA threads=4",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS upload_results (
			message_id VARCHAR PRIMARY KEY,
			user_id    VARCHAR NOT NULL,
			status     VARCHAR NOT NULL,
			progress   INTEGER NOT NULL,
			snapshot   BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS indicators (
			owner_id     VARCHAR NOT NULL,
			name         VARCHAR NOT NULL,
			value        VARCHAR NOT NULL,
			unit         VARCHAR,
			ref_range    VARCHAR,
			method       VARCHAR,
			status       VARCHAR,
			note         VARCHAR,
			source_table VARCHAR NOT NULL,
			source_id    VARCHAR NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			PRIMARY KEY (owner_id, name, value, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS genetic_records (
			owner_id     VARCHAR NOT NULL,
			rsid         VARCHAR NOT NULL,
			chromosome   VARCHAR NOT NULL,
			position     BIGINT NOT NULL,
			genotype     VARCHAR NOT NULL,
			source_table VARCHAR NOT NULL,
			source_id    VARCHAR NOT NULL,
			PRIMARY KEY (owner_id, rsid, source_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &ResultStore{db: db, dbPath: dbPath}, nil
}

// SaveResult upserts the result snapshot for a message id. The
// snapshot is stored as one msgpack blob so its shape can evolve
// without schema migrations.
func (rs *ResultStore) SaveResult(ctx context.Context, messageID, userID string, snap models.ResultSnapshot) error {
	blob, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	now := time.Now()
	_, err = rs.db.ExecContext(ctx, `
		INSERT INTO upload_results (message_id, user_id, status, progress, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		messageID, userID, string(snap.Status), snap.Progress, blob, now, now)
	if err != nil {
		return fmt.Errorf("failed to save result for %s: %w", messageID, err)
	}
	return nil
}

// GetResult reads the persisted snapshot for a message id.
func (rs *ResultStore) GetResult(ctx context.Context, messageID string) (models.ResultSnapshot, error) {
	var blob []byte
	err := rs.db.QueryRowContext(ctx,
		`SELECT snapshot FROM upload_results WHERE message_id = ?`, messageID).Scan(&blob)
	if err != nil {
		return models.ResultSnapshot{}, fmt.Errorf("result not found for %s: %w", messageID, err)
	}

	var snap models.ResultSnapshot
	if err := msgpack.Unmarshal(blob, &snap); err != nil {
		return models.ResultSnapshot{}, fmt.Errorf("failed to decode snapshot for %s: %w", messageID, err)
	}
	return snap, nil
}

// DeleteResult removes the persisted snapshot for a message id.
func (rs *ResultStore) DeleteResult(ctx context.Context, messageID string) error {
	_, err := rs.db.ExecContext(ctx,
		`DELETE FROM upload_results WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete result for %s: %w", messageID, err)
	}
	return nil
}

// InsertIndicators bulk-inserts extracted indicators with
// insert-or-ignore semantics keyed by (owner, name, value, source),
// so repeated partial retries do not duplicate rows.
func (rs *ResultStore) InsertIndicators(ctx context.Context, ownerID string, indicators []models.Indicator, prov models.Provenance) error {
	if len(indicators) == 0 {
		return nil
	}

	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin indicator insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indicators (owner_id, name, value, unit, ref_range, method, status, note, source_table, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare indicator insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, in := range indicators {
		if _, err := stmt.ExecContext(ctx, ownerID, in.Name, in.Value, in.Unit,
			in.ReferenceRange, in.Method, string(in.Status), in.Note,
			prov.SourceTable, prov.SourceID, now); err != nil {
			return fmt.Errorf("failed to insert indicator %q: %w", in.Name, err)
		}
	}
	return tx.Commit()
}

// InsertGeneticBatch flushes one loader batch as a single
// transaction with insert-or-ignore semantics.
func (rs *ResultStore) InsertGeneticBatch(ctx context.Context, records []models.GeneticRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO genetic_records (owner_id, rsid, chromosome, position, genotype, source_table, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.OwnerID, rec.RSID, rec.Chromosome,
			rec.Position, rec.Genotype, rec.SourceTable, rec.SourceID); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.RSID, err)
		}
	}
	return tx.Commit()
}

// DeleteBySource cascade-deletes all rows that originated from one
// upload, identified by provenance.
func (rs *ResultStore) DeleteBySource(ctx context.Context, prov models.Provenance) error {
	if _, err := rs.db.ExecContext(ctx,
		`DELETE FROM indicators WHERE source_table = ? AND source_id = ?`,
		prov.SourceTable, prov.SourceID); err != nil {
		return fmt.Errorf("failed to delete indicators for %s/%s: %w", prov.SourceTable, prov.SourceID, err)
	}
	if _, err := rs.db.ExecContext(ctx,
		`DELETE FROM genetic_records WHERE source_table = ? AND source_id = ?`,
		prov.SourceTable, prov.SourceID); err != nil {
		return fmt.Errorf("failed to delete genetic records for %s/%s: %w", prov.SourceTable, prov.SourceID, err)
	}
	return nil
}

// Close closes the underlying database.
func (rs *ResultStore) Close() error {
	return rs.db.Close()
}

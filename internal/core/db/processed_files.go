package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neilberkman/batteryetl/internal/core/models"
)

// FindProcessedFile looks up a previously ingested file by content hash.
// It returns ErrNotFound when the hash is new.
func (db *DB) FindProcessedFile(ctx context.Context, hash string) (*models.ProcessedFile, error) {
	var f models.ProcessedFile
	var kind, ingestion, processed sql.NullString
	var rowCount sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, content_hash, filename, kind, row_count, experiment_id, ingestion_id, processed_at
		FROM processed_files
		WHERE content_hash = ?
	`, hash).Scan(&f.ID, &f.ContentHash, &f.Filename, &kind, &rowCount, &f.ExperimentID, &ingestion, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Kind = models.FileKind(kind.String)
	f.RowCount = int(rowCount.Int64)
	f.IngestionID = ingestion.String
	if t := parseTime(processed); t != nil {
		f.ProcessedAt = *t
	}
	return &f, nil
}

// RecordProcessedFiles stores the hashes of files whose content has been
// fully persisted. All files are recorded or none.
func (db *DB) RecordProcessedFiles(ctx context.Context, files []models.ProcessedFile) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO processed_files (content_hash, filename, kind, row_count, experiment_id, ingestion_id, processed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, f := range files {
			processed := f.ProcessedAt
			if processed.IsZero() {
				processed = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, f.ContentHash, f.Filename, string(f.Kind), f.RowCount,
				f.ExperimentID, f.IngestionID, formatTime(processed)); err != nil {
				return fmt.Errorf("record %s: %w", f.Filename, err)
			}
		}
		return nil
	})
}

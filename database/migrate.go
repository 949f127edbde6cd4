package database

import (
	"context"
	"fmt"

	"github.com/apex/log"
)

// RunMigrations applies schema changes made after the tables were first created.
func (d *Database) RunMigrations(ctx context.Context) error {
	log.Info("Running database migrations...")

	if err := d.migrateSeverityIndex(ctx); err != nil {
		return fmt.Errorf("migration 001 failed: %w", err)
	}

	log.Info("All migrations completed successfully")
	return nil
}

// migrateSeverityIndex adds the index used by severity statistics.
func (d *Database) migrateSeverityIndex(ctx context.Context) error {
	exists, err := d.indexExists(ctx, "ade_reports", "idx_ade_reports_severity")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := d.db.ExecContext(ctx, `CREATE INDEX idx_ade_reports_severity ON ade_reports(severity)`); err != nil {
		return fmt.Errorf("failed to create severity index: %w", err)
	}
	log.Info("Migration 001 completed: added idx_ade_reports_severity")
	return nil
}

// indexExists checks if an index exists in a table
func (d *Database) indexExists(ctx context.Context, tableName, indexName string) (bool, error) {
	query := `
	SELECT COUNT(*)
	FROM INFORMATION_SCHEMA.STATISTICS
	WHERE TABLE_SCHEMA = DATABASE()
	AND TABLE_NAME = ?
	AND INDEX_NAME = ?`

	var count int
	if err := d.db.QueryRowContext(ctx, query, tableName, indexName).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check if index exists: %w", err)
	}
	return count > 0, nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"adeguard/config"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a stored report does not exist.
var ErrNotFound = errors.New("not found")

const maxConnectAttempts = 6

// Database wraps the MySQL connection used to store analysis results.
type Database struct {
	db *sql.DB
}

// NewDatabase opens the connection, waiting for MySQL with exponential
// backoff, and prepares the schema.
func NewDatabase(ctx context.Context, cfg *config.Config) (*Database, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	waitInterval := 1 * time.Second
	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if attempt == maxConnectAttempts {
			db.Close()
			return nil, fmt.Errorf("database unreachable after %d attempts: %w", attempt, err)
		}
		log.Warnf("Database connection failed, retrying in %v: %v", waitInterval, err)
		select {
		case <-time.After(waitInterval):
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		}
		waitInterval *= 2
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	d := New(db)
	if err := d.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := d.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// New wraps an existing connection.
func New(db *sql.DB) *Database {
	return &Database{db: db}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// CreateTables creates the report and batch tables if they don't exist
func (d *Database) CreateTables(ctx context.Context) error {
	queries := []string{`
	CREATE TABLE IF NOT EXISTS ade_reports (
		request_id CHAR(36) NOT NULL PRIMARY KEY,
		batch_id VARCHAR(128),
		submitted_by VARCHAR(255) NOT NULL DEFAULT '',
		symptom_text TEXT NOT NULL,
		patient_age INT,
		vaccine_name VARCHAR(255) NOT NULL DEFAULT '',
		severity ENUM('mild', 'moderate', 'severe', 'life_threatening', 'unknown') NOT NULL,
		confidence FLOAT NOT NULL,
		requires_attention BOOLEAN NOT NULL DEFAULT FALSE,
		total_entities INT NOT NULL DEFAULT 0,
		result_json JSON NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_ade_reports_batch (batch_id),
		INDEX idx_ade_reports_created (created_at)
	)`, `
	CREATE TABLE IF NOT EXISTS ade_batches (
		batch_id VARCHAR(128) NOT NULL PRIMARY KEY,
		batch_name VARCHAR(100) NOT NULL DEFAULT '',
		submitted_by VARCHAR(255) NOT NULL DEFAULT '',
		status ENUM('completed', 'partial', 'failed') NOT NULL,
		total_reports INT NOT NULL,
		successful_reports INT NOT NULL,
		failed_reports INT NOT NULL,
		success_rate FLOAT NOT NULL,
		total_processing_time FLOAT NOT NULL,
		summary_json JSON NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`}

	for _, q := range queries {
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

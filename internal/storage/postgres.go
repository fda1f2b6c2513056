// Package storage persists run audit records in PostgreSQL and caches
// results in Redis.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
)

const schema = `
CREATE TABLE IF NOT EXISTS id_ocr_log (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	job_id        TEXT,
	filename      TEXT,
	connector     TEXT,
	result_text   TEXT,
	id_number     TEXT,
	id_name       TEXT,
	confidence    NUMERIC(5,2),
	status        TEXT NOT NULL,
	error_code    TEXT,
	error_message TEXT,
	fields        JSONB NOT NULL DEFAULT '{}'::jsonb,
	duration_ms   BIGINT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS id_ocr_log_run_id_idx ON id_ocr_log (run_id);
CREATE INDEX IF NOT EXISTS id_ocr_log_id_number_idx ON id_ocr_log (id_number);
`

// AuditRecord is one row of the OCR log.
type AuditRecord struct {
	RunID        string
	JobID        string
	Filename     string
	Connector    string
	ResultText   string
	IDNumber     string
	IDName       string
	Confidence   float64
	Status       string
	ErrorCode    string
	ErrorMessage string
	Fields       map[string]interface{}
	Duration     time.Duration
}

// NewAuditRecord builds a record from a result and the run error, if
// any. A nil result records only the failure.
func NewAuditRecord(res *idcard.Result, jobID, filename string, runErr error) AuditRecord {
	rec := AuditRecord{JobID: jobID, Filename: filename, Status: string(idcard.StatusFailed)}
	if res != nil {
		rec.RunID = res.RunID
		rec.Connector = res.Connector
		rec.ResultText = res.RawText
		rec.IDNumber = res.Get(idcard.FieldIDNumber).String()
		rec.IDName = res.Get(idcard.FieldFullName).String()
		rec.Confidence = res.MeanConfidence()
		rec.Status = string(res.Status)
		rec.Duration = res.Duration
		rec.Fields = make(map[string]interface{}, len(res.Fields))
		for f, v := range res.Fields {
			rec.Fields[string(f)] = v
		}
	}
	if runErr != nil {
		rec.ErrorCode = string(ocrerrors.CodeOf(runErr))
		rec.ErrorMessage = runErr.Error()
		if res == nil || res.Status == "" {
			rec.Status = string(idcard.StatusFailed)
		}
	}
	return rec
}

// sanitizeConfidence clamps confidence to [0, 100] and rounds to two
// decimals to fit NUMERIC(5,2).
func sanitizeConfidence(confidence float64) float64 {
	if math.IsNaN(confidence) || confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return math.Round(confidence*100) / 100
}

// PostgresClient handles database operations.
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient opens and pings the database.
func NewPostgresClient(ctx context.Context, databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the log table when missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return ocrerrors.NewStorageFailedError("", fmt.Errorf("failed to create schema: %w", err))
	}
	return nil
}

// RecordRun inserts one audit row.
func (p *PostgresClient) RecordRun(ctx context.Context, rec AuditRecord) error {
	if rec.Status == "" {
		return fmt.Errorf("status is required")
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	if rec.Fields == nil {
		fieldsJSON = []byte("{}")
	}

	query := `
		INSERT INTO id_ocr_log (
			run_id, job_id, filename, connector, result_text,
			id_number, id_name, confidence, status,
			error_code, error_message, fields, duration_ms
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
			NULLIF($6, ''), NULLIF($7, ''), $8::NUMERIC(5,2), $9,
			NULLIF($10, ''), NULLIF($11, ''), $12::jsonb, $13
		)
	`
	_, err = p.db.ExecContext(ctx, query,
		rec.RunID,
		rec.JobID,
		rec.Filename,
		rec.Connector,
		rec.ResultText,
		rec.IDNumber,
		rec.IDName,
		sanitizeConfidence(rec.Confidence),
		rec.Status,
		rec.ErrorCode,
		rec.ErrorMessage,
		string(fieldsJSON),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return ocrerrors.NewStorageFailedError(rec.JobID,
			fmt.Errorf("failed to record run (run=%s, status=%s, confidence=%.2f): %w",
				rec.RunID, rec.Status, rec.Confidence, err))
	}
	return nil
}

// Close closes the database.
func (p *PostgresClient) Close() error {
	return p.db.Close()
}

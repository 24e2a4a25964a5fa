// Package audit persists claim attempts to PostgreSQL.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/claim-bot/internal/claim"
	"github.com/Proton-105/claim-bot/internal/database"
)

const insertAttempt = `INSERT INTO claim_attempts
	(job_id, user_id, phone, claim_type, attempt, success, message, error, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const (
	maxMessageLen = 1000
	writeTimeout  = 3 * time.Second
)

// PostgresRecorder writes one row per remote call into claim_attempts.
type PostgresRecorder struct {
	db  database.Execer
	log *slog.Logger
}

// NewPostgresRecorder builds a recorder over db.
func NewPostgresRecorder(db database.Execer, log *slog.Logger) *PostgresRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresRecorder{db: db, log: log}
}

// RecordAttempt implements claim.Recorder.
func (r *PostgresRecorder) RecordAttempt(ctx context.Context, a claim.Attempt) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, insertAttempt,
		a.JobID,
		a.UserID,
		a.Key,
		string(a.ClaimType),
		a.Number,
		a.Success,
		clip(a.Message),
		clip(a.Error),
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert claim attempt: %w", err)
	}

	r.log.Debug("claim attempt recorded",
		slog.String("job_id", a.JobID),
		slog.Int("attempt", a.Number),
		slog.Bool("success", a.Success),
	)
	return nil
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen])
}

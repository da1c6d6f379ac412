package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medical-transcription-service/internal/models"
)

// Postgres is the durable Registry implementation backed by pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and runs the schema migration.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := runMigration(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (r *Postgres) Create(ctx context.Context, s *models.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, patient_id, doctor_id, provider, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.PatientID, s.DoctorID, s.Provider, string(s.Status), s.CreatedAt)
	return err
}

func (r *Postgres) Get(ctx context.Context, id string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, patient_id, doctor_id, provider, status, created_at,
		        started_at, ended_at, finalized_at, total_results, COALESCE(last_error, '')
		 FROM sessions WHERE id = $1`, id)

	var s models.Session
	var status string
	err := row.Scan(&s.ID, &s.PatientID, &s.DoctorID, &s.Provider, &status, &s.CreatedAt,
		&s.StartedAt, &s.EndedAt, &s.FinalizedAt, &s.TotalResults, &s.LastError)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.Status = models.Status(status)
	return &s, nil
}

func (r *Postgres) MarkStreaming(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'streaming', started_at = $2
		 WHERE id = $1 AND status = 'created'`,
		id, startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Unclaimable: either the id is unknown or another connection
		// already moved the session past created.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrSessionBusy
	}
	return nil
}

func (r *Postgres) AppendSegment(ctx context.Context, id string, index int, seg models.TranscriptSegment) error {
	words, err := json.Marshal(seg.Words)
	if err != nil {
		return fmt.Errorf("marshal words: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, segment_index, content, provider, confidence, spoken_at, words)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, index, seg.Text, seg.Provider, seg.Confidence, seg.Timestamp, words)
	return err
}

func (r *Postgres) MarkCompleted(ctx context.Context, id string, endedAt time.Time, totalResults int) error {
	return r.updateSession(ctx, id,
		`UPDATE sessions SET status = 'completed', ended_at = $2, total_results = $3 WHERE id = $1`,
		endedAt, totalResults)
}

func (r *Postgres) MarkError(ctx context.Context, id string, endedAt time.Time, message string) error {
	return r.updateSession(ctx, id,
		`UPDATE sessions SET status = 'error', ended_at = $2, last_error = $3 WHERE id = $1`,
		endedAt, message)
}

func (r *Postgres) Finalize(ctx context.Context, id string, finalizedAt time.Time) error {
	return r.updateSession(ctx, id,
		`UPDATE sessions SET status = 'finalized', finalized_at = $2 WHERE id = $1`,
		finalizedAt)
}

func (r *Postgres) Segments(ctx context.Context, id string) ([]models.TranscriptSegment, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT content, provider, confidence, spoken_at, words
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.TranscriptSegment
	for rows.Next() {
		var seg models.TranscriptSegment
		var words []byte
		if err := rows.Scan(&seg.Text, &seg.Provider, &seg.Confidence, &seg.Timestamp, &words); err != nil {
			return nil, err
		}
		if len(words) > 0 {
			if err := json.Unmarshal(words, &seg.Words); err != nil {
				return nil, fmt.Errorf("unmarshal words: %w", err)
			}
		}
		seg.SessionID = id
		seg.IsFinal = true
		list = append(list, seg)
	}
	return list, rows.Err()
}

func (r *Postgres) Close() {
	r.pool.Close()
}

func (r *Postgres) updateSession(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

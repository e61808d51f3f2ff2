package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/framecap/internal/capture"
	"github.com/udisondev/framecap/internal/protocol"
)

// CaptureRepository implements capture.Sink backed by PostgreSQL.
type CaptureRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check.
var _ capture.Sink = (*CaptureRepository)(nil)

// SessionRow is a stored capture session.
type SessionRow struct {
	ID      uuid.UUID
	Version string
	Start   time.Time
	End     *time.Time
	Frames  int64
}

// NewCaptureRepository creates a new capture repository.
func NewCaptureRepository(pool *pgxpool.Pool) *CaptureRepository {
	return &CaptureRepository{pool: pool}
}

// BeginSession inserts a new session row.
func (r *CaptureRepository) BeginSession(ctx context.Context, s capture.Session) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO capture_sessions (id, game_version, started_at) VALUES ($1, $2, $3)`,
		s.ID, s.Version, s.Start); err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// AppendFrame stores one emitted frame.
func (r *CaptureRepository) AppendFrame(ctx context.Context, rec capture.Record) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO capture_frames (session_id, seq, channel, direction, frame_timestamp, data)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Session, int64(rec.Seq), int16(rec.Channel), int16(rec.Direction),
		int64(rec.Timestamp), rec.Data); err != nil {
		return fmt.Errorf("insert frame %d of session %s: %w", rec.Seq, rec.Session, err)
	}
	return nil
}

// EndSession records the session end time.
func (r *CaptureRepository) EndSession(ctx context.Context, id uuid.UUID, end time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE capture_sessions SET ended_at = $2 WHERE id = $1`, id, end)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("end session %s: not found", id)
	}
	return nil
}

// Session loads a session with its frame count.
// Returns nil, nil if the session does not exist.
func (r *CaptureRepository) Session(ctx context.Context, id uuid.UUID) (*SessionRow, error) {
	var s SessionRow
	err := r.pool.QueryRow(ctx,
		`SELECT s.id, s.game_version, s.started_at, s.ended_at,
		        (SELECT count(*) FROM capture_frames f WHERE f.session_id = s.id)
		 FROM capture_sessions s WHERE s.id = $1`, id,
	).Scan(&s.ID, &s.Version, &s.Start, &s.End, &s.Frames)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}
	return &s, nil
}

// Frames returns the frames of a session in emission order.
func (r *CaptureRepository) Frames(ctx context.Context, id uuid.UUID) ([]capture.Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT seq, channel, direction, frame_timestamp, data
		 FROM capture_frames WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query frames of session %s: %w", id, err)
	}
	defer rows.Close()

	var result []capture.Record
	for rows.Next() {
		var (
			seq, ts      int64
			channel, dir int16
			data         []byte
		)
		if err := rows.Scan(&seq, &channel, &dir, &ts, &data); err != nil {
			return nil, fmt.Errorf("scan frame row: %w", err)
		}
		result = append(result, capture.Record{
			Session:   id,
			Seq:       uint64(seq),
			Channel:   protocol.Channel(channel),
			Direction: protocol.Direction(dir),
			Timestamp: uint64(ts),
			Data:      data,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frame rows: %w", err)
	}
	return result, nil
}

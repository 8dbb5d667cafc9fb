package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/snapshot"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store manages the PostgreSQL connection used to export tracking sessions.
// Stored sessions are for reporting only; they are never loaded back into a tracker.
type Store struct {
	conn *pgx.Conn
}

// Session describes one exported tracking run.
type Session struct {
	ID           uuid.UUID
	VideoID      string
	Path         string
	Label        string
	WatchedToEnd bool
	Count        int
	CreatedAt    time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
// Snapshots are stored one row per joint; a NULL angle is an absent reading.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS tracking_sessions (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id),
			label TEXT NOT NULL DEFAULT '',
			watched_to_end BOOLEAN NOT NULL DEFAULT FALSE,
			snapshot_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS angle_snapshots (
			session_id UUID NOT NULL REFERENCES tracking_sessions(id) ON DELETE CASCADE,
			time_s DOUBLE PRECISION NOT NULL,
			joint TEXT NOT NULL,
			angle DOUBLE PRECISION,
			PRIMARY KEY (session_id, time_s, joint)
		);
		CREATE INDEX IF NOT EXISTS tracking_sessions_video_id_idx ON tracking_sessions (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// snapshotRows flattens snapshots into (session, time, joint, angle) rows, one per
// tracked joint, with nil for absent angles.
func snapshotRows(id uuid.UUID, snaps []snapshot.Snapshot) [][]any {
	joints := angles.AllJoints()
	rows := make([][]any, 0, len(snaps)*len(joints))
	for _, sn := range snaps {
		for _, j := range joints {
			var v any
			if a, ok := sn.Angle(j); ok {
				v = a
			}
			rows = append(rows, []any{id, sn.Time(), string(j), v})
		}
	}
	return rows
}

type angleRow struct {
	time  float64
	joint string
	angle *float64
}

// collectSnapshots rebuilds snapshots from rows ordered by time.
func collectSnapshots(rows []angleRow) []snapshot.Snapshot {
	var (
		out  []snapshot.Snapshot
		cur  angles.Angles
		curT float64
	)
	flush := func() {
		if cur != nil {
			out = append(out, snapshot.New(curT, cur))
		}
	}
	for _, r := range rows {
		if cur == nil || r.time != curT {
			flush()
			cur = make(angles.Angles)
			curT = r.time
		}
		if r.angle == nil {
			continue
		}
		if j, err := angles.ParseJoint(r.joint); err == nil {
			cur[j] = *r.angle
		}
	}
	flush()
	return out
}

// SaveSession writes the session and all of its snapshots in one transaction.
// A zero ID is replaced by a new random one, which is returned.
func (s *Store) SaveSession(ctx context.Context, sess Session, snaps []snapshot.Snapshot) (uuid.UUID, error) {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO video_metadata (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, sess.VideoID, sess.Path)
	if err != nil {
		return uuid.Nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tracking_sessions (id, video_id, label, watched_to_end, snapshot_count)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.ID, sess.VideoID, sess.Label, sess.WatchedToEnd, len(snaps))
	if err != nil {
		return uuid.Nil, err
	}

	if len(snaps) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"angle_snapshots"},
			[]string{"session_id", "time_s", "joint", "angle"},
			pgx.CopyFromRows(snapshotRows(sess.ID, snaps)),
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("copy snapshots: %w", err)
		}
	}

	return sess.ID, tx.Commit(ctx)
}

const sessionColumns = `s.id, s.video_id, v.path, s.label, s.watched_to_end, s.snapshot_count, s.created_at`

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.VideoID, &sess.Path, &sess.Label, &sess.WatchedToEnd, &sess.Count, &sess.CreatedAt)
	return sess, err
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions s JOIN video_metadata v ON v.id = s.video_id
		ORDER BY s.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession fetches one session's metadata.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	sess, err := scanSession(s.conn.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM tracking_sessions s JOIN video_metadata v ON v.id = s.video_id
		WHERE s.id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// GetSnapshots returns a session's snapshots in time order.
func (s *Store) GetSnapshots(ctx context.Context, id uuid.UUID) ([]snapshot.Snapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT time_s, joint, angle FROM angle_snapshots
		WHERE session_id = $1
		ORDER BY time_s, joint
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []angleRow
	for rows.Next() {
		var r angleRow
		if err := rows.Scan(&r.time, &r.joint, &r.angle); err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return collectSnapshots(raw), nil
}

// LabelSession sets a human readable label on a session.
func (s *Store) LabelSession(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE tracking_sessions SET label = $1 WHERE id = $2", label, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and its snapshots.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM tracking_sessions WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS angle_snapshots CASCADE;
		DROP TABLE IF EXISTS tracking_sessions CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}

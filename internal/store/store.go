// Package store persists race sessions in SQLite. It is the entity store and
// decision ledger behind the stage resolver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/grandtour"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrSessionChanged = errors.New("session was changed by another request")
)

var _ engine.Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// CreateSession inserts a new session together with the home team, the AI
// teams and up to grandtour.TeamSize home cyclists from the roster.
func (s *SQLiteStore) CreateSession(ctx context.Context, title string, cyclists int) (grandtour.Session, error) {
	if cyclists < 1 || cyclists > len(grandtour.CyclistRoster) {
		return grandtour.Session{}, fmt.Errorf("cyclist count %d out of range", cyclists)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return grandtour.Session{}, err
	}
	defer tx.Rollback()

	sessionID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, current_stage, status, stage_locked)
		VALUES (?, ?, 1, ?, 1)
	`, sessionID, title, string(grandtour.StatusNotStarted)); err != nil {
		return grandtour.Session{}, fmt.Errorf("inserting session: %w", err)
	}

	teamTypes := append([]grandtour.TeamType{grandtour.HomeTeam}, grandtour.AITeams...)
	var homeID string
	for _, tt := range teamTypes {
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO teams (id, session_id, name, type, synergy_score, total_points)
			VALUES (?, ?, ?, ?, ?, 0)
		`, id, sessionID, tt.DisplayName(), string(tt), grandtour.InitialSynergy); err != nil {
			return grandtour.Session{}, fmt.Errorf("inserting team %s: %w", tt, err)
		}
		if tt.IsHome() {
			homeID = id
		}
	}

	for seat, r := range grandtour.CyclistRoster[:cyclists] {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cyclists (id, team_id, name, role, stamina, current_points, seat)
			VALUES (?, ?, ?, ?, ?, 0, ?)
		`, uuid.NewString(), homeID, r.Name, r.Role, grandtour.InitialStamina, seat); err != nil {
			return grandtour.Session{}, fmt.Errorf("inserting cyclist %s: %w", r.Role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return grandtour.Session{}, err
	}
	return s.Session(ctx, sessionID)
}

func (s *SQLiteStore) Session(ctx context.Context, sessionID string) (grandtour.Session, error) {
	var (
		sess                 grandtour.Session
		status               string
		created, updated     string
		locked, active, refl bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, current_stage, status, stage_locked, multiplier_active,
		       current_multiplier, reflection_active, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, sessionID).Scan(&sess.ID, &sess.Title, &sess.CurrentStage, &status, &locked, &active,
		&sess.CurrentMultiplier, &refl, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, ErrNotFound
	}
	if err != nil {
		return sess, err
	}
	sess.Status = grandtour.SessionStatus(status)
	sess.StageLocked = locked
	sess.MultiplierActive = active
	sess.ReflectionActive = refl
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return sess, nil
}

// SaveSession writes the mutable lifecycle fields of next, provided the
// stored row still has the status and stage of prev. A session that has
// ended is never written; one changed by another caller yields
// ErrSessionChanged.
func (s *SQLiteStore) SaveSession(ctx context.Context, prev, next grandtour.Session) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET current_stage = ?, status = ?, stage_locked = ?, multiplier_active = ?,
		    current_multiplier = ?, reflection_active = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ? AND status = ? AND current_stage = ? AND status != ?
	`, next.CurrentStage, string(next.Status), boolInt(next.StageLocked), boolInt(next.MultiplierActive),
		next.CurrentMultiplier, boolInt(next.ReflectionActive),
		prev.ID, string(prev.Status), prev.CurrentStage, string(grandtour.StatusEnded))
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.staleSession(ctx, prev.ID)
	}
	return nil
}

// LockStage closes the current stage for decisions. It touches nothing else,
// so it cannot undo a concurrent status change.
func (s *SQLiteStore) LockStage(ctx context.Context, sessionID string, stage int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET stage_locked = 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ? AND current_stage = ? AND status != ?
	`, sessionID, stage, string(grandtour.StatusEnded))
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.staleSession(ctx, sessionID)
	}
	return nil
}

// staleSession explains why a conditional session update matched no row.
func (s *SQLiteStore) staleSession(ctx context.Context, sessionID string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	case grandtour.SessionStatus(status).Ended():
		return engine.ErrSessionEnded
	}
	return ErrSessionChanged
}

func (s *SQLiteStore) SetSessionStatus(ctx context.Context, sessionID string, status grandtour.SessionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?
	`, string(status), sessionID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimStage inserts the resolution marker for a stage. Exactly one caller
// can claim a given (session, stage); the rest get false.
func (s *SQLiteStore) ClaimStage(ctx context.Context, sessionID string, stage int) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_resolutions (session_id, stage_number)
		VALUES (?, ?)
		ON CONFLICT (session_id, stage_number) DO NOTHING
	`, sessionID, stage)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseStage(ctx context.Context, sessionID string, stage int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM stage_resolutions WHERE session_id = ? AND stage_number = ?
	`, sessionID, stage)
	return err
}

func (s *SQLiteStore) StageResolved(ctx context.Context, sessionID string, stage int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stage_resolutions WHERE session_id = ? AND stage_number = ?
	`, sessionID, stage).Scan(&n)
	return n > 0, err
}

// ResolvedStages lists the stages of a session that carry a resolution marker.
func (s *SQLiteStore) ResolvedStages(ctx context.Context, sessionID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage_number FROM stage_resolutions WHERE session_id = ? ORDER BY stage_number
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		stages = append(stages, n)
	}
	return stages, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

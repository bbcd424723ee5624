package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/playperu/grandtour/internal/grandtour"
)

// InsertDecision records a rider's choice unless one already exists for the
// same (cyclist, session, stage). It reports whether a row was written; on a
// duplicate the stored decision is returned unchanged.
func (s *SQLiteStore) InsertDecision(ctx context.Context, d grandtour.Decision) (grandtour.Decision, bool, error) {
	d.ID = uuid.NewString()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, cyclist_id, session_id, stage_number, decision)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cyclist_id, session_id, stage_number) DO NOTHING
	`, d.ID, d.CyclistID, d.SessionID, d.StageNumber, string(d.Choice))
	if err != nil {
		return d, false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return d, false, err
	}

	stored, err := s.decision(ctx, d.CyclistID, d.SessionID, d.StageNumber)
	if err != nil {
		return d, false, err
	}
	return stored, n == 1, nil
}

func (s *SQLiteStore) decision(ctx context.Context, cyclistID, sessionID string, stage int) (grandtour.Decision, error) {
	var (
		d       grandtour.Decision
		choice  string
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cyclist_id, session_id, stage_number, decision, points_earned, created_at
		FROM decisions
		WHERE cyclist_id = ? AND session_id = ? AND stage_number = ?
	`, cyclistID, sessionID, stage).Scan(
		&d.ID, &d.CyclistID, &d.SessionID, &d.StageNumber, &choice, &d.PointsEarned, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	d.Choice = grandtour.Choice(choice)
	d.CreatedAt = parseTime(created)
	return d, err
}

// StageDecisions returns every decision recorded for one stage, oldest first.
func (s *SQLiteStore) StageDecisions(ctx context.Context, sessionID string, stage int) ([]grandtour.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cyclist_id, session_id, stage_number, decision, points_earned, created_at
		FROM decisions
		WHERE session_id = ? AND stage_number = ?
		ORDER BY created_at, id
	`, sessionID, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []grandtour.Decision
	for rows.Next() {
		var (
			d       grandtour.Decision
			choice  string
			created string
		)
		if err := rows.Scan(&d.ID, &d.CyclistID, &d.SessionID, &d.StageNumber, &choice, &d.PointsEarned, &created); err != nil {
			return nil, err
		}
		d.Choice = grandtour.Choice(choice)
		d.CreatedAt = parseTime(created)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (s *SQLiteStore) SetDecisionPoints(ctx context.Context, cyclistID, sessionID string, stage, points int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET points_earned = ?
		WHERE cyclist_id = ? AND session_id = ? AND stage_number = ?
	`, points, cyclistID, sessionID, stage)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

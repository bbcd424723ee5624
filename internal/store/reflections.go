package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/playperu/grandtour/internal/grandtour"
)

// ReflectionEntry is a reflection joined with the rider's name and the choice
// they made on that stage. Choice is empty when no decision was recorded.
type ReflectionEntry struct {
	grandtour.Reflection
	CyclistName string
	Choice      grandtour.Choice
}

// InsertReflection stores a rider's reflection for a stage. It reports false
// when the rider already reflected on that stage.
func (s *SQLiteStore) InsertReflection(ctx context.Context, r grandtour.Reflection) (grandtour.Reflection, bool, error) {
	r.ID = uuid.NewString()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reflections (id, cyclist_id, session_id, stage_number, decision_reasoning, emotional_response)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cyclist_id, session_id, stage_number) DO NOTHING
	`, r.ID, r.CyclistID, r.SessionID, r.StageNumber, r.DecisionReasoning, r.EmotionalResponse)
	if err != nil {
		return r, false, err
	}
	n, _ := result.RowsAffected()

	var created string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, decision_reasoning, emotional_response, created_at
		FROM reflections
		WHERE cyclist_id = ? AND session_id = ? AND stage_number = ?
	`, r.CyclistID, r.SessionID, r.StageNumber).Scan(&r.ID, &r.DecisionReasoning, &r.EmotionalResponse, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, ErrNotFound
	}
	if err != nil {
		return r, false, err
	}
	r.CreatedAt = parseTime(created)
	return r, n == 1, nil
}

// StageReflections lists the reflections submitted for one stage in seating
// order.
func (s *SQLiteStore) StageReflections(ctx context.Context, sessionID string, stage int) ([]ReflectionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.cyclist_id, r.session_id, r.stage_number, r.decision_reasoning,
		       r.emotional_response, r.created_at, c.name, COALESCE(d.decision, '')
		FROM reflections r
		JOIN cyclists c ON c.id = r.cyclist_id
		LEFT JOIN decisions d
		       ON d.cyclist_id = r.cyclist_id
		      AND d.session_id = r.session_id
		      AND d.stage_number = r.stage_number
		WHERE r.session_id = ? AND r.stage_number = ?
		ORDER BY c.seat
	`, sessionID, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ReflectionEntry
	for rows.Next() {
		var (
			e       ReflectionEntry
			created string
			choice  string
		)
		if err := rows.Scan(&e.ID, &e.CyclistID, &e.SessionID, &e.StageNumber, &e.DecisionReasoning,
			&e.EmotionalResponse, &created, &e.CyclistName, &choice); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		e.Choice = grandtour.Choice(choice)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/playperu/grandtour/internal/grandtour"
)

const teamColumns = `id, session_id, name, type, synergy_score, total_points`

// Teams returns every team of a session, home team first.
func (s *SQLiteStore) Teams(ctx context.Context, sessionID string) ([]grandtour.Team, error) {
	return s.queryTeams(ctx, `
		SELECT `+teamColumns+` FROM teams
		WHERE session_id = ?
		ORDER BY CASE type WHEN 'rubicon' THEN 0 WHEN 'solaris' THEN 1 WHEN 'corex' THEN 2 ELSE 3 END
	`, sessionID)
}

// AITeams returns the simulated teams of a session.
func (s *SQLiteStore) AITeams(ctx context.Context, sessionID string) ([]grandtour.Team, error) {
	return s.queryTeams(ctx, `
		SELECT `+teamColumns+` FROM teams
		WHERE session_id = ? AND type != ?
		ORDER BY CASE type WHEN 'solaris' THEN 1 WHEN 'corex' THEN 2 ELSE 3 END
	`, sessionID, string(grandtour.HomeTeam))
}

// HomeTeam returns the human-controlled team of a session and its cyclists
// in seating order.
func (s *SQLiteStore) HomeTeam(ctx context.Context, sessionID string) (grandtour.Team, []grandtour.Cyclist, error) {
	var (
		team grandtour.Team
		typ  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT `+teamColumns+` FROM teams
		WHERE session_id = ? AND type = ?
	`, sessionID, string(grandtour.HomeTeam)).Scan(
		&team.ID, &team.SessionID, &team.Name, &typ, &team.Synergy, &team.TotalPoints)
	if errors.Is(err, sql.ErrNoRows) {
		return team, nil, ErrNotFound
	}
	if err != nil {
		return team, nil, err
	}
	team.Type = grandtour.TeamType(typ)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, name, role, stamina, current_points
		FROM cyclists
		WHERE team_id = ?
		ORDER BY seat
	`, team.ID)
	if err != nil {
		return team, nil, err
	}
	defer rows.Close()

	var cyclists []grandtour.Cyclist
	for rows.Next() {
		var c grandtour.Cyclist
		if err := rows.Scan(&c.ID, &c.TeamID, &c.Name, &c.Role, &c.Stamina, &c.Points); err != nil {
			return team, nil, err
		}
		cyclists = append(cyclists, c)
	}
	return team, cyclists, rows.Err()
}

// HomeCyclist returns a cyclist if it rides for the home team of the session.
func (s *SQLiteStore) HomeCyclist(ctx context.Context, sessionID, cyclistID string) (grandtour.Cyclist, error) {
	var c grandtour.Cyclist
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.team_id, c.name, c.role, c.stamina, c.current_points
		FROM cyclists c
		JOIN teams t ON t.id = c.team_id
		WHERE c.id = ? AND t.session_id = ? AND t.type = ?
	`, cyclistID, sessionID, string(grandtour.HomeTeam)).Scan(
		&c.ID, &c.TeamID, &c.Name, &c.Role, &c.Stamina, &c.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) UpdateTeam(ctx context.Context, teamID string, points, synergy int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE teams SET total_points = ?, synergy_score = ? WHERE id = ?
	`, points, grandtour.ClampSynergy(synergy), teamID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateCyclist(ctx context.Context, cyclistID string, points, stamina int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cyclists SET current_points = ?, stamina = ? WHERE id = ?
	`, points, grandtour.ClampStamina(stamina), cyclistID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) queryTeams(ctx context.Context, query string, args ...any) ([]grandtour.Team, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []grandtour.Team
	for rows.Next() {
		var (
			t   grandtour.Team
			typ string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Name, &typ, &t.Synergy, &t.TotalPoints); err != nil {
			return nil, err
		}
		t.Type = grandtour.TeamType(typ)
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

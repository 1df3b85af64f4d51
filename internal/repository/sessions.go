package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"upc/presence/internal/domain"
	"upc/presence/internal/model"
)

// ActivateSession inserts the session with active=true. The partial unique
// index on (active) WHERE active makes activation a compare-and-swap: the
// loser of a race gets SQLSTATE 23505 and a Concurrency error, never a
// silent overwrite.
func (s *Store) ActivateSession(ctx context.Context, session model.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, course, session_name, opened_by, start_time, day, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
	`, session.ID, session.Course, session.SessionName, session.OpenedBy, session.StartTime, session.Day, session.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return domain.Concurrency("session_already_active")
	}
	return err
}

// DeactivateSession clears the active flag. The row itself is the permanent
// history record and is never deleted.
func (s *Store) DeactivateSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET active = false WHERE id = $1 AND active
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("session_not_active")
	}
	return nil
}

func (s *Store) ActiveSession(ctx context.Context) (model.Session, bool, error) {
	session, err := s.scanSession(s.pool.QueryRow(ctx, `
		SELECT id, course, session_name, opened_by, start_time, day, active, created_at
		FROM sessions
		WHERE active
	`))
	if domain.IsCode(err, domain.CodeNotFound) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, err
	}
	return session, true, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx, `
		SELECT id, course, session_name, opened_by, start_time, day, active, created_at
		FROM sessions
		WHERE id = $1
	`, id))
}

// ListSessions returns every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, course, session_name, opened_by, start_time, day, active, created_at
		FROM sessions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListSessionsByCourses returns the session history for the given courses,
// newest first.
func (s *Store) ListSessionsByCourses(ctx context.Context, courses []string) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, course, session_name, opened_by, start_time, day, active, created_at
		FROM sessions
		WHERE course = ANY($1)
		ORDER BY created_at DESC
	`, courses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) ListSessionsByCourse(ctx context.Context, course string) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, course, session_name, opened_by, start_time, day, active, created_at
		FROM sessions
		WHERE course = $1
		ORDER BY created_at DESC
	`, course)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		var session model.Session
		if err := rows.Scan(
			&session.ID,
			&session.Course,
			&session.SessionName,
			&session.OpenedBy,
			&session.StartTime,
			&session.Day,
			&session.Active,
			&session.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) scanSession(row pgx.Row) (model.Session, error) {
	var session model.Session
	err := row.Scan(
		&session.ID,
		&session.Course,
		&session.SessionName,
		&session.OpenedBy,
		&session.StartTime,
		&session.Day,
		&session.Active,
		&session.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, domain.NotFound("session_not_found")
	}
	return session, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

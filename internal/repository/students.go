package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"upc/presence/internal/domain"
	"upc/presence/internal/model"
)

// UpsertStudent enforces the directory contract at the store boundary:
// blank badge id, name, or option is rejected before any write, and a
// badge already owned by another student is a conflict naming that owner.
// editingID identifies an edit-in-place of the same record; only then may
// the existing row be rewritten, and only its mutable fields change.
func (s *Store) UpsertStudent(ctx context.Context, student model.Student, editingID string) error {
	if student.ID == "" {
		return domain.Validation("badge_required")
	}
	if strings.TrimSpace(student.Name) == "" {
		return domain.Validation("name_required")
	}
	if strings.TrimSpace(student.Option) == "" {
		return domain.Validation("option_required")
	}

	if editingID == student.ID {
		tag, err := s.pool.Exec(ctx, `
			UPDATE students
			SET name = $2, option = $3, promotion = $4
			WHERE id = $1
		`, student.ID, student.Name, student.Option, student.Promotion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFound("student_not_found")
		}
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (id, name, option, promotion, registration_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, student.ID, student.Name, student.Option, student.Promotion, student.RegistrationDate, student.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		owner, lookupErr := s.GetStudent(ctx, student.ID)
		if lookupErr != nil {
			return domain.Conflict("badge_already_assigned")
		}
		return domain.Conflict(fmt.Sprintf("badge_already_assigned_to %s", owner.Name))
	}
	return err
}

func (s *Store) GetStudent(ctx context.Context, id string) (model.Student, error) {
	var student model.Student
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, option, promotion, registration_date, created_at
		FROM students
		WHERE id = $1
	`, id)
	err := row.Scan(
		&student.ID,
		&student.Name,
		&student.Option,
		&student.Promotion,
		&student.RegistrationDate,
		&student.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Student{}, domain.NotFound("student_not_found")
	}
	return student, err
}

func (s *Store) DeleteStudent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("student_not_found")
	}
	return nil
}

// ListStudents returns the whole directory, newest registration first.
func (s *Store) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, option, promotion, registration_date, created_at
		FROM students
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Student
	for rows.Next() {
		var student model.Student
		if err := rows.Scan(
			&student.ID,
			&student.Name,
			&student.Option,
			&student.Promotion,
			&student.RegistrationDate,
			&student.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, student)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"upc/presence/internal/domain"
	"upc/presence/internal/model"
)

func (s *Store) UpsertStaff(ctx context.Context, staff model.Staff) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staff (uid, name, email, role, assigned_courses, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uid) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    role = EXCLUDED.role,
		    assigned_courses = EXCLUDED.assigned_courses,
		    password_hash = EXCLUDED.password_hash
	`, staff.UID, staff.Name, staff.Email, staff.Role, staff.AssignedCourses, staff.PasswordHash, staff.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return domain.Conflict("email_already_registered")
	}
	return err
}

func (s *Store) GetStaff(ctx context.Context, uid string) (model.Staff, error) {
	return s.scanStaff(s.pool.QueryRow(ctx, `
		SELECT uid, name, email, role, assigned_courses, password_hash, created_at
		FROM staff
		WHERE uid = $1
	`, uid))
}

// GetStaffByEmail is the directory-lookup contract: at most one record per
// email, enforced by the unique index.
func (s *Store) GetStaffByEmail(ctx context.Context, email string) (model.Staff, error) {
	return s.scanStaff(s.pool.QueryRow(ctx, `
		SELECT uid, name, email, role, assigned_courses, password_hash, created_at
		FROM staff
		WHERE email = $1
	`, email))
}

func (s *Store) DeleteStaff(ctx context.Context, uid string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM staff WHERE uid = $1`, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("staff_not_found")
	}
	return nil
}

func (s *Store) ListStaff(ctx context.Context) ([]model.Staff, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uid, name, email, role, assigned_courses, password_hash, created_at
		FROM staff
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var staff model.Staff
		if err := rows.Scan(
			&staff.UID,
			&staff.Name,
			&staff.Email,
			&staff.Role,
			&staff.AssignedCourses,
			&staff.PasswordHash,
			&staff.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, staff)
	}
	return out, rows.Err()
}

func (s *Store) scanStaff(row pgx.Row) (model.Staff, error) {
	var staff model.Staff
	err := row.Scan(
		&staff.UID,
		&staff.Name,
		&staff.Email,
		&staff.Role,
		&staff.AssignedCourses,
		&staff.PasswordHash,
		&staff.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Staff{}, domain.NotFound("staff_not_found")
	}
	return staff, err
}

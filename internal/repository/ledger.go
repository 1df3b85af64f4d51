package repository

import (
	"context"

	"upc/presence/internal/model"
)

// AppendEntry records a scan in the presence ledger. The composite primary
// key (day, session_id, student_id) plus ON CONFLICT DO NOTHING makes the
// append idempotent: a duplicate scan leaves the first record untouched.
// Returns whether a new row was created.
func (s *Store) AppendEntry(ctx context.Context, entry model.LedgerEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO attendance (day, session_id, student_id, scan_time, scanned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (day, session_id, student_id) DO NOTHING
	`, entry.Day, entry.SessionID, entry.StudentID, entry.ScanTime, entry.ScannedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SessionEntries(ctx context.Context, day, sessionID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, session_id, student_id, scan_time, scanned_at
		FROM attendance
		WHERE day = $1 AND session_id = $2
	`, day, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var entry model.LedgerEntry
		if err := rows.Scan(&entry.Day, &entry.SessionID, &entry.StudentID, &entry.ScanTime, &entry.ScannedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// EntriesForCourse returns every ledger entry recorded against sessions of
// the given course, across all days.
func (s *Store) EntriesForCourse(ctx context.Context, course string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.day, a.session_id, a.student_id, a.scan_time, a.scanned_at
		FROM attendance a
		JOIN sessions se ON se.id = a.session_id AND se.day = a.day
		WHERE se.course = $1
	`, course)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var entry model.LedgerEntry
		if err := rows.Scan(&entry.Day, &entry.SessionID, &entry.StudentID, &entry.ScanTime, &entry.ScannedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

package model

import "time"

// Student is keyed by its badge identifier: the id printed on the RFID badge
// is the storage key, so it never changes after registration.
type Student struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Option           string    `json:"option"`
	Promotion        string    `json:"promotion"`
	RegistrationDate string    `json:"registration_date"`
	CreatedAt        time.Time `json:"created_at"`
}

type Staff struct {
	UID             string    `json:"uid"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	AssignedCourses []string  `json:"assigned_courses"`
	PasswordHash    string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

const (
	RoleAdmin      = "Admin"
	RoleProfesseur = "Professeur"
	RoleAssistant  = "Assistant"
)

// Session is both the active-session pointer (while Active is true) and the
// permanent history record that survives deactivation.
type Session struct {
	ID          string    `json:"id"`
	Course      string    `json:"course"`
	SessionName string    `json:"session_name"`
	OpenedBy    string    `json:"opened_by"`
	StartTime   string    `json:"start_time"`
	Day         string    `json:"day"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// LedgerEntry records a presence. The (Day, SessionID, StudentID) triple is
// the primary key: at most one entry per student per session, ever.
type LedgerEntry struct {
	Day       string    `json:"day"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	ScanTime  string    `json:"scan_time"`
	ScannedAt time.Time `json:"scanned_at"`
}

const (
	DayLayout      = "2006-01-02"
	ScanTimeLayout = "15:04"
)

package views

import (
	"context"
	"math"
	"sort"
	"strings"

	"upc/presence/internal/domain"
	"upc/presence/internal/model"
)

// Placeholders shown when a ledger entry points at a record that has since
// been deleted. The register keeps the row; only the identity is gone.
const (
	PlaceholderDeletedStudent = "Étudiant supprimé"
	PlaceholderNoOption       = "Option non définie"
)

// Attendance tiers.
const (
	TierRegular  = "Regular"
	TierAverage  = "Average"
	TierCritical = "Critical"
)

// Store is the read surface the builder works against.
type Store interface {
	ActiveSession(ctx context.Context) (model.Session, bool, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessionsByCourse(ctx context.Context, course string) ([]model.Session, error)
	ListStudents(ctx context.Context) ([]model.Student, error)
	GetStaff(ctx context.Context, uid string) (model.Staff, error)
	ListStaff(ctx context.Context) ([]model.Staff, error)
	SessionEntries(ctx context.Context, day, sessionID string) ([]model.LedgerEntry, error)
	EntriesForCourse(ctx context.Context, course string) ([]model.LedgerEntry, error)
}

// FeedEntry is one line of the live arrivals feed.
type FeedEntry struct {
	BadgeID string `json:"badge_id"`
	Name    string `json:"name"`
	Time    string `json:"time"`
}

// RegisterRow is one student line in a session register.
type RegisterRow struct {
	BadgeID string `json:"badge_id"`
	Name    string `json:"name"`
	Option  string `json:"option"`
	Time    string `json:"time"`
}

// Register is the full view of one session.
type Register struct {
	Session      model.Session `json:"session"`
	OpenedByName string        `json:"opened_by_name"`
	Titular      string        `json:"titular,omitempty"`
	PresentCount int           `json:"present_count"`
	Rows         []RegisterRow `json:"rows"`
}

// Live is the live-presence view of the active session.
type Live struct {
	Session model.Session `json:"session"`
	Feed    []FeedEntry   `json:"feed,omitempty"`
	Roster  []RegisterRow `json:"roster,omitempty"`
}

// StatRow is one student's attendance rate for a course.
type StatRow struct {
	BadgeID    string `json:"badge_id"`
	Name       string `json:"name"`
	Present    int    `json:"present"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
	Tier       string `json:"tier"`
}

// Stats is the per-course attendance report.
type Stats struct {
	Course        string    `json:"course"`
	TotalSessions int       `json:"total_sessions"`
	Rows          []StatRow `json:"rows"`
}

// Builder assembles read views by joining the ledger against the directory
// at read time. Nothing is denormalized: a renamed student shows their new
// name in old registers.
type Builder struct {
	store     Store
	feedLimit int
}

func NewBuilder(store Store, feedLimit int) *Builder {
	if feedLimit <= 0 {
		feedLimit = 5
	}
	return &Builder{store: store, feedLimit: feedLimit}
}

// LiveFeed returns the most recent arrivals of the active session, newest
// first, capped at the feed limit.
func (b *Builder) LiveFeed(ctx context.Context) (Live, error) {
	session, entries, students, err := b.activeEntries(ctx)
	if err != nil {
		return Live{}, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ScannedAt.After(entries[j].ScannedAt)
	})
	if len(entries) > b.feedLimit {
		entries = entries[:b.feedLimit]
	}

	feed := make([]FeedEntry, 0, len(entries))
	for _, entry := range entries {
		feed = append(feed, FeedEntry{
			BadgeID: entry.StudentID,
			Name:    studentName(students, entry.StudentID),
			Time:    entry.ScanTime,
		})
	}
	return Live{Session: session, Feed: feed}, nil
}

// LiveRoster returns everyone present in the active session, name order.
func (b *Builder) LiveRoster(ctx context.Context) (Live, error) {
	session, entries, students, err := b.activeEntries(ctx)
	if err != nil {
		return Live{}, err
	}
	return Live{Session: session, Roster: registerRows(entries, students)}, nil
}

// SessionRegister builds the register of a past or current session.
func (b *Builder) SessionRegister(ctx context.Context, sessionID string) (Register, error) {
	session, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return Register{}, err
	}
	entries, err := b.store.SessionEntries(ctx, session.Day, session.ID)
	if err != nil {
		return Register{}, err
	}
	students, err := b.studentIndex(ctx)
	if err != nil {
		return Register{}, err
	}

	rows := registerRows(entries, students)
	return Register{
		Session:      session,
		OpenedByName: b.openerName(ctx, session.OpenedBy),
		Titular:      b.titularName(ctx, session.Course),
		PresentCount: len(rows),
		Rows:         rows,
	}, nil
}

// CourseStats computes per-student attendance rates over every session of
// the course.
func (b *Builder) CourseStats(ctx context.Context, course string) (Stats, error) {
	course = strings.TrimSpace(course)
	if course == "" {
		return Stats{}, domain.Validation("course_required")
	}
	sessions, err := b.store.ListSessionsByCourse(ctx, course)
	if err != nil {
		return Stats{}, err
	}
	entries, err := b.store.EntriesForCourse(ctx, course)
	if err != nil {
		return Stats{}, err
	}
	students, err := b.store.ListStudents(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(course, students, sessions, entries), nil
}

// ComputeStats is the pure core of the attendance report. Rates are whole
// percentages, rounded half up; zero held sessions means zero percent for
// everyone rather than a division blowup.
func ComputeStats(course string, students []model.Student, sessions []model.Session, entries []model.LedgerEntry) Stats {
	present := make(map[string]int)
	for _, entry := range entries {
		present[entry.StudentID]++
	}

	total := len(sessions)
	rows := make([]StatRow, 0, len(students))
	for _, student := range students {
		count := present[student.ID]
		pct := 0
		if total > 0 {
			pct = int(math.Round(float64(count) / float64(total) * 100))
		}
		rows = append(rows, StatRow{
			BadgeID:    student.ID,
			Name:       student.Name,
			Present:    count,
			Total:      total,
			Percentage: pct,
			Tier:       tierFor(pct),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Percentage != rows[j].Percentage {
			return rows[i].Percentage > rows[j].Percentage
		}
		return strings.ToLower(rows[i].Name) < strings.ToLower(rows[j].Name)
	})

	return Stats{Course: course, TotalSessions: total, Rows: rows}
}

func tierFor(pct int) string {
	switch {
	case pct >= 75:
		return TierRegular
	case pct >= 50:
		return TierAverage
	default:
		return TierCritical
	}
}

func (b *Builder) activeEntries(ctx context.Context) (model.Session, []model.LedgerEntry, map[string]model.Student, error) {
	session, active, err := b.store.ActiveSession(ctx)
	if err != nil {
		return model.Session{}, nil, nil, err
	}
	if !active {
		return model.Session{}, nil, nil, domain.NotFound("no_active_session")
	}
	entries, err := b.store.SessionEntries(ctx, session.Day, session.ID)
	if err != nil {
		return model.Session{}, nil, nil, err
	}
	students, err := b.studentIndex(ctx)
	if err != nil {
		return model.Session{}, nil, nil, err
	}
	return session, entries, students, nil
}

func (b *Builder) studentIndex(ctx context.Context) (map[string]model.Student, error) {
	students, err := b.store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]model.Student, len(students))
	for _, s := range students {
		index[s.ID] = s
	}
	return index, nil
}

// openerName resolves a staff uid, falling back to the raw uid when the
// account no longer exists.
func (b *Builder) openerName(ctx context.Context, uid string) string {
	staff, err := b.store.GetStaff(ctx, uid)
	if err != nil {
		return uid
	}
	return staff.Name
}

// titularName returns the first Professeur assigned to the course.
func (b *Builder) titularName(ctx context.Context, course string) string {
	staff, err := b.store.ListStaff(ctx)
	if err != nil {
		return ""
	}
	for _, member := range staff {
		if member.Role != model.RoleProfesseur {
			continue
		}
		for _, assigned := range member.AssignedCourses {
			if assigned == course {
				return member.Name
			}
		}
	}
	return ""
}

func registerRows(entries []model.LedgerEntry, students map[string]model.Student) []RegisterRow {
	rows := make([]RegisterRow, 0, len(entries))
	for _, entry := range entries {
		name := PlaceholderDeletedStudent
		option := PlaceholderNoOption
		if student, ok := students[entry.StudentID]; ok {
			name = student.Name
			if student.Option != "" {
				option = student.Option
			}
		}
		rows = append(rows, RegisterRow{
			BadgeID: entry.StudentID,
			Name:    name,
			Option:  option,
			Time:    entry.ScanTime,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return strings.ToLower(rows[i].Name) < strings.ToLower(rows[j].Name)
	})
	return rows
}

func studentName(students map[string]model.Student, id string) string {
	if student, ok := students[id]; ok {
		return student.Name
	}
	return PlaceholderDeletedStudent
}

package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"upc/presence/internal/device"
	"upc/presence/internal/domain"
	"upc/presence/internal/model"
)

// DefaultSessionName is used when the opener does not name the session.
const DefaultSessionName = "Séance Standard"

// SessionStore is the slice of the repository the manager needs.
type SessionStore interface {
	ActivateSession(ctx context.Context, session model.Session) error
	DeactivateSession(ctx context.Context, id string) error
	ActiveSession(ctx context.Context) (model.Session, bool, error)
}

// DeviceControl claims and releases the RFID reader around a session.
type DeviceControl interface {
	Acquire(ctx context.Context, purpose string) error
	Release(ctx context.Context, purpose string) error
	PublishSessionEvent(ctx context.Context, event any) error
}

// Opener identifies the staff member starting or stopping a session.
type Opener struct {
	ID              string
	Name            string
	AssignedCourses []string
}

// Event is the snapshot broadcast to subscribers on every lifecycle change.
// Session is nil when no session is active.
type Event struct {
	Session *model.Session `json:"session"`
}

// Subscriber receives lifecycle events. Notification happens synchronously
// under the manager's lock, so a subscriber always sees events in order
// and never observes a half-applied transition.
type Subscriber func(Event)

// Manager owns the single-active-session invariant. The database's partial
// unique index is the backstop; the mutex keeps the claim/activate/notify
// sequence atomic within this process.
type Manager struct {
	store SessionStore
	dev   DeviceControl
	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	subs []Subscriber
}

func NewManager(store SessionStore, dev DeviceControl) *Manager {
	return &Manager{
		store: store,
		dev:   dev,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Subscribe registers a lifecycle subscriber. Subscribers cannot be
// removed; they live as long as the manager.
func (m *Manager) Subscribe(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
}

// Start opens a session for the opener. When the opener leaves the course
// blank and teaches exactly one course, that course is implied; zero or
// several assigned courses make a blank course ambiguous and invalid. An
// opener with an explicit assignment list may only open their own courses.
func (m *Manager) Start(ctx context.Context, opener Opener, course, sessionName string) (model.Session, error) {
	course = strings.TrimSpace(course)
	if course == "" {
		if len(opener.AssignedCourses) != 1 {
			return model.Session{}, domain.Validation("course_required")
		}
		course = opener.AssignedCourses[0]
	} else if len(opener.AssignedCourses) > 0 && !contains(opener.AssignedCourses, course) {
		return model.Session{}, domain.Validation("course_not_assigned")
	}

	sessionName = strings.TrimSpace(sessionName)
	if sessionName == "" {
		sessionName = DefaultSessionName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active, err := m.store.ActiveSession(ctx); err != nil {
		return model.Session{}, err
	} else if active {
		return model.Session{}, domain.Concurrency("session_already_active")
	}

	if err := m.dev.Acquire(ctx, device.PurposeSession); err != nil {
		return model.Session{}, err
	}

	now := m.now()
	session := model.Session{
		ID:          m.newID(),
		Course:      course,
		SessionName: sessionName,
		OpenedBy:    opener.ID,
		StartTime:   now.Format(model.ScanTimeLayout),
		Day:         now.Format(model.DayLayout),
		Active:      true,
		CreatedAt:   now,
	}
	if err := m.store.ActivateSession(ctx, session); err != nil {
		if relErr := m.dev.Release(ctx, device.PurposeSession); relErr != nil {
			log.Printf("session start: device release after failed activation: %v", relErr)
		}
		return model.Session{}, err
	}

	m.notify(ctx, Event{Session: &session})
	return session, nil
}

// Stop closes the active session and returns the reader. Stopping when
// nothing is active is a NotFound, not a silent success.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, active, err := m.store.ActiveSession(ctx)
	if err != nil {
		return err
	}
	if !active {
		return domain.NotFound("no_active_session")
	}
	if err := m.store.DeactivateSession(ctx, session.ID); err != nil {
		return err
	}
	if err := m.dev.Release(ctx, device.PurposeSession); err != nil {
		log.Printf("session stop: device release: %v", err)
	}

	m.notify(ctx, Event{Session: nil})
	return nil
}

// Active returns the currently open session, if any.
func (m *Manager) Active(ctx context.Context) (model.Session, bool, error) {
	return m.store.ActiveSession(ctx)
}

// notify runs under m.mu.
func (m *Manager) notify(ctx context.Context, event Event) {
	for _, sub := range m.subs {
		sub(event)
	}
	if err := m.dev.PublishSessionEvent(ctx, event); err != nil {
		log.Printf("session event publish: %v", err)
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

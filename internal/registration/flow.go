package registration

import (
	"context"
	"strings"
	"sync"
	"time"

	"upc/presence/internal/device"
	"upc/presence/internal/domain"
	"upc/presence/internal/model"
)

// State of the badge registration flow.
type State string

const (
	StateIdle          State = "IDLE"
	StateAwaitingScan  State = "AWAITING_SCAN"
	StateBadgeCaptured State = "BADGE_CAPTURED"
)

// StudentStore is the directory slice the flow needs. UpsertStudent owns
// the badge-uniqueness contract: editingID names the record being edited
// in place, and any other holder of the badge is a conflict.
type StudentStore interface {
	GetStudent(ctx context.Context, id string) (model.Student, error)
	UpsertStudent(ctx context.Context, student model.Student, editingID string) error
}

// DeviceControl claims the reader for badge capture.
type DeviceControl interface {
	Acquire(ctx context.Context, purpose string) error
	Release(ctx context.Context, purpose string) error
	ConsumeScan(ctx context.Context) (string, bool, error)
}

// Draft carries the operator's form for Commit.
type Draft struct {
	BadgeID   string `json:"badge_id"`
	Name      string `json:"name"`
	Option    string `json:"option"`
	Promotion string `json:"promotion"`
}

// Status is a snapshot of the flow for the admin UI.
type Status struct {
	State     State  `json:"state"`
	BadgeID   string `json:"badge_id,omitempty"`
	EditingID string `json:"editing_id,omitempty"`
}

// Flow walks one badge registration at a time through
// IDLE -> AWAITING_SCAN -> BADGE_CAPTURED -> IDLE. Editing an existing
// student skips the scan: the badge is already known and cannot change.
type Flow struct {
	store StudentStore
	dev   DeviceControl
	now   func() time.Time

	mu        sync.Mutex
	state     State
	badgeID   string
	editingID string
}

func NewFlow(store StudentStore, dev DeviceControl) *Flow {
	return &Flow{
		store: store,
		dev:   dev,
		now:   time.Now,
		state: StateIdle,
	}
}

// NormalizeBadge canonicalizes a raw reader value. All lookups and
// storage use this form.
func NormalizeBadge(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Begin starts a registration. With an empty editingID it claims the
// reader and waits for a badge; with an editingID it loads that student
// and goes straight to captured, badge fixed.
func (f *Flow) Begin(ctx context.Context, editingID string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateIdle {
		return Status{}, domain.Concurrency("registration_in_progress")
	}

	if editingID != "" {
		student, err := f.store.GetStudent(ctx, NormalizeBadge(editingID))
		if err != nil {
			return Status{}, err
		}
		f.state = StateBadgeCaptured
		f.badgeID = student.ID
		f.editingID = student.ID
		return f.statusLocked(), nil
	}

	if err := f.dev.Acquire(ctx, device.PurposeRegistration); err != nil {
		return Status{}, err
	}
	// Drop any scan left over in the mailbox from before the claim; only
	// badges presented from now on belong to this registration.
	if _, _, err := f.dev.ConsumeScan(ctx); err != nil {
		_ = f.dev.Release(ctx, device.PurposeRegistration)
		return Status{}, err
	}
	f.state = StateAwaitingScan
	f.badgeID = ""
	f.editingID = ""
	return f.statusLocked(), nil
}

// HandleScan drains the reader mailbox while a scan is awaited. Draining
// is the acknowledgement the reader polls for. Scans arriving in any
// other state belong to someone else and are left alone.
func (f *Flow) HandleScan(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingScan {
		return nil
	}
	raw, ok, err := f.dev.ConsumeScan(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	badge := NormalizeBadge(raw)
	if badge == "" {
		return nil
	}
	f.badgeID = badge
	f.state = StateBadgeCaptured
	return f.dev.Release(ctx, device.PurposeRegistration)
}

// Commit validates the draft and writes the student. A badge that already
// belongs to another student is a conflict; during an edit the badge is
// immutable, so a draft naming any other badge is invalid.
func (f *Flow) Commit(ctx context.Context, draft Draft) (model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateBadgeCaptured {
		return model.Student{}, domain.Validation("no_badge_captured")
	}

	name := strings.TrimSpace(draft.Name)
	if name == "" {
		return model.Student{}, domain.Validation("name_required")
	}
	option := strings.TrimSpace(draft.Option)
	if option == "" {
		return model.Student{}, domain.Validation("option_required")
	}
	if draft.BadgeID != "" && NormalizeBadge(draft.BadgeID) != f.badgeID {
		if f.editingID != "" {
			return model.Student{}, domain.Validation("badge_immutable")
		}
		return model.Student{}, domain.Validation("badge_mismatch")
	}

	student := model.Student{
		ID:               f.badgeID,
		Name:             name,
		Option:           option,
		Promotion:        strings.TrimSpace(draft.Promotion),
		RegistrationDate: f.now().Format(model.DayLayout),
		CreatedAt:        f.now(),
	}
	if err := f.store.UpsertStudent(ctx, student, f.editingID); err != nil {
		return model.Student{}, err
	}

	f.resetLocked(ctx)
	return student, nil
}

// Cancel abandons the flow and returns the reader.
func (f *Flow) Cancel(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetLocked(ctx)
}

func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusLocked()
}

func (f *Flow) statusLocked() Status {
	return Status{State: f.state, BadgeID: f.badgeID, EditingID: f.editingID}
}

func (f *Flow) resetLocked(ctx context.Context) {
	// Release regardless of state: it no-ops unless the registration
	// purpose holds the claim, and an unconditional call also frees a
	// claim a crashed predecessor left behind.
	_ = f.dev.Release(ctx, device.PurposeRegistration)
	f.state = StateIdle
	f.badgeID = ""
	f.editingID = ""
}

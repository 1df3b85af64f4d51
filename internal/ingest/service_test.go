package ingest

import (
	"context"
	"testing"
	"time"

	"upc/presence/internal/domain"
	"upc/presence/internal/model"
)

type fakeSessions struct {
	session model.Session
	active  bool
}

func (f *fakeSessions) Active(context.Context) (model.Session, bool, error) {
	return f.session, f.active, nil
}

type fakeDirectory struct {
	students map[string]model.Student
}

func (f *fakeDirectory) GetStudent(_ context.Context, id string) (model.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return model.Student{}, domain.NotFound("student_not_found")
	}
	return s, nil
}

type fakeLedger struct {
	entries map[string]model.LedgerEntry
}

func (f *fakeLedger) AppendEntry(_ context.Context, entry model.LedgerEntry) (bool, error) {
	if f.entries == nil {
		f.entries = make(map[string]model.LedgerEntry)
	}
	key := entry.Day + "/" + entry.SessionID + "/" + entry.StudentID
	if _, ok := f.entries[key]; ok {
		return false, nil
	}
	f.entries[key] = entry
	return true, nil
}

func newTestService(sessions *fakeSessions, dir *fakeDirectory, ledger *fakeLedger) *Service {
	s := NewService(sessions, dir, ledger)
	s.now = func() time.Time {
		return time.Date(2026, 3, 9, 14, 42, 0, 0, time.UTC)
	}
	return s
}

func TestIngestScanRecords(t *testing.T) {
	sessions := &fakeSessions{
		session: model.Session{ID: "s1", Day: "2026-03-09", Course: "L1"},
		active:  true,
	}
	dir := &fakeDirectory{students: map[string]model.Student{
		"AB12CD": {ID: "AB12CD", Name: "Alice Martin"},
	}}
	ledger := &fakeLedger{}
	svc := newTestService(sessions, dir, ledger)

	outcome, err := svc.IngestScan(context.Background(), " ab12cd ")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome != OutcomeRecorded {
		t.Fatalf("expected recorded, got %s", outcome)
	}
	entry, ok := ledger.entries["2026-03-09/s1/AB12CD"]
	if !ok {
		t.Fatalf("expected ledger entry, got %+v", ledger.entries)
	}
	if entry.ScanTime != "14:42" {
		t.Fatalf("unexpected scan time %q", entry.ScanTime)
	}
}

func TestIngestScanDuplicate(t *testing.T) {
	sessions := &fakeSessions{
		session: model.Session{ID: "s1", Day: "2026-03-09"},
		active:  true,
	}
	dir := &fakeDirectory{students: map[string]model.Student{
		"AB12CD": {ID: "AB12CD"},
	}}
	ledger := &fakeLedger{}
	svc := newTestService(sessions, dir, ledger)

	if _, err := svc.IngestScan(context.Background(), "AB12CD"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	outcome, err := svc.IngestScan(context.Background(), "AB12CD")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected single ledger entry, got %d", len(ledger.entries))
	}
}

func TestIngestScanDropsStrayAndUnregistered(t *testing.T) {
	dir := &fakeDirectory{students: map[string]model.Student{}}
	ledger := &fakeLedger{}

	svc := newTestService(&fakeSessions{}, dir, ledger)
	outcome, err := svc.IngestScan(context.Background(), "AB12CD")
	if err != nil {
		t.Fatalf("ingest without session: %v", err)
	}
	if outcome != OutcomeStray {
		t.Fatalf("expected stray, got %s", outcome)
	}

	svc = newTestService(&fakeSessions{session: model.Session{ID: "s1", Day: "2026-03-09"}, active: true}, dir, ledger)
	outcome, err = svc.IngestScan(context.Background(), "AB12CD")
	if err != nil {
		t.Fatalf("ingest unregistered: %v", err)
	}
	if outcome != OutcomeUnregistered {
		t.Fatalf("expected unregistered, got %s", outcome)
	}
	if len(ledger.entries) != 0 {
		t.Fatalf("dropped scans must not reach the ledger, got %+v", ledger.entries)
	}
}

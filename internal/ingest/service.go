package ingest

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"upc/presence/internal/domain"
	"upc/presence/internal/model"
	"upc/presence/internal/registration"
)

// Outcome of one scan, also the metric label.
type Outcome string

const (
	OutcomeRecorded     Outcome = "recorded"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnregistered Outcome = "unregistered"
	OutcomeStray        Outcome = "stray"
)

var scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "presence_scans_total",
	Help: "Badge scans processed, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(scansTotal)
}

// SessionSource tells the service which session, if any, is open.
type SessionSource interface {
	Active(ctx context.Context) (model.Session, bool, error)
}

// StudentDirectory resolves badge ids to registered students.
type StudentDirectory interface {
	GetStudent(ctx context.Context, id string) (model.Student, error)
}

// Ledger appends presence records.
type Ledger interface {
	AppendEntry(ctx context.Context, entry model.LedgerEntry) (bool, error)
}

// Service turns raw badge scans into ledger entries. Scans with no open
// session and scans from unregistered badges are dropped without error:
// the reader fires for anyone waving anything at it, and a dropped scan
// must never surface as a device-side failure.
type Service struct {
	sessions SessionSource
	students StudentDirectory
	ledger   Ledger
	now      func() time.Time
}

func NewService(sessions SessionSource, students StudentDirectory, ledger Ledger) *Service {
	return &Service{
		sessions: sessions,
		students: students,
		ledger:   ledger,
		now:      time.Now,
	}
}

// IngestScan processes one badge scan and reports how it was handled.
func (s *Service) IngestScan(ctx context.Context, badgeID string) (Outcome, error) {
	badge := registration.NormalizeBadge(badgeID)
	if badge == "" {
		return s.count(OutcomeStray), nil
	}

	session, active, err := s.sessions.Active(ctx)
	if err != nil {
		return "", err
	}
	if !active {
		log.Printf("scan ingest: dropped stray scan %s, no active session", badge)
		return s.count(OutcomeStray), nil
	}

	student, err := s.students.GetStudent(ctx, badge)
	if domain.IsCode(err, domain.CodeNotFound) {
		log.Printf("scan ingest: dropped scan from unregistered badge %s", badge)
		return s.count(OutcomeUnregistered), nil
	}
	if err != nil {
		return "", err
	}

	now := s.now()
	created, err := s.ledger.AppendEntry(ctx, model.LedgerEntry{
		Day:       session.Day,
		SessionID: session.ID,
		StudentID: student.ID,
		ScanTime:  now.Format(model.ScanTimeLayout),
		ScannedAt: now,
	})
	if err != nil {
		return "", err
	}
	if !created {
		return s.count(OutcomeDuplicate), nil
	}
	return s.count(OutcomeRecorded), nil
}

func (s *Service) count(outcome Outcome) Outcome {
	scansTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/db"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/abkawan/banka-ledger/internal/queue"
	"github.com/google/uuid"
)

// DefaultAuditTimeout bounds a single audit write.
const DefaultAuditTimeout = 3 * time.Second

// AuditSink receives an entry after a mutating operation has committed.
type AuditSink interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// StoreSink writes audit entries straight into the store.
type StoreSink struct {
	store db.AuditStore
}

func NewStoreSink(store db.AuditStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Record(ctx context.Context, entry *models.AuditEntry) error {
	return s.store.InsertAudit(ctx, entry)
}

// Auditor records audit entries on behalf of the services. A failed write is
// logged and otherwise ignored: the operation it describes has already committed.
type Auditor struct {
	sink    AuditSink
	timeout time.Duration
	logger  *slog.Logger
}

func NewAuditor(sink AuditSink, timeout time.Duration, logger *slog.Logger) *Auditor {
	if timeout <= 0 {
		timeout = DefaultAuditTimeout
	}
	return &Auditor{sink: sink, timeout: timeout, logger: logger}
}

// Record writes one entry for action on the given account. The write outlives
// cancellation of ctx but never takes longer than the auditor's timeout.
func (a *Auditor) Record(ctx context.Context, actor *auth.Actor, action string, accountNumber int64) {
	if a == nil || a.sink == nil {
		return
	}

	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		Actor:      actor.ID,
		Action:     action,
		TargetType: models.TargetAccount,
		TargetID:   strconv.FormatInt(accountNumber, 10),
		Timestamp:  time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if err := a.sink.Record(ctx, entry); err != nil {
		a.logger.Warn("audit record failed",
			"action", action,
			"actor", actor.ID,
			"account", accountNumber,
			"error", err,
		)
	}
}

// AuditSource yields queued audit entries.
type AuditSource interface {
	ConsumeAudit(ctx context.Context) (<-chan queue.AuditDelivery, error)
}

// handles audit log reads and the queue processor
type AuditService struct {
	store  db.AuditStore
	logger *slog.Logger
}

func NewAuditService(store db.AuditStore, logger *slog.Logger) *AuditService {
	return &AuditService{store: store, logger: logger}
}

// List returns audit entries newest first. Admin only.
func (s *AuditService) List(ctx context.Context, actor *auth.Actor, limit, offset int) ([]*models.AuditEntry, error) {
	if err := auth.Require(actor, auth.RequireAdmin); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, limit, offset)
}

// StartProcessor persists entries from source until ctx is cancelled. A delivery
// is acked once stored and requeued when the store rejects it. The returned
// channel is closed when processing stops, including when source closes its
// delivery channel because the broker went away.
func (s *AuditService) StartProcessor(ctx context.Context, source AuditSource) (<-chan struct{}, error) {
	deliveries, err := source.ConsumeAudit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to consume audit entries: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					if ctx.Err() == nil {
						s.logger.Error("audit delivery channel closed, processor stopping")
					}
					return
				}
				s.process(ctx, d)
			}
		}
	}()

	return done, nil
}

func (s *AuditService) process(ctx context.Context, d queue.AuditDelivery) {
	if err := s.store.InsertAudit(ctx, d.Entry); err != nil {
		s.logger.Error("failed to store audit entry", "id", d.Entry.ID, "error", err)
		if nackErr := d.Nack(true); nackErr != nil {
			s.logger.Error("failed to requeue audit entry", "id", d.Entry.ID, "error", nackErr)
		}
		return
	}
	if err := d.Ack(); err != nil {
		s.logger.Error("failed to ack audit entry", "id", d.Entry.ID, "error", err)
		return
	}
	s.logger.Debug("stored audit entry", "id", d.Entry.ID, "action", d.Entry.Action)
}

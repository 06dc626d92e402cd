package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arts/src/models"
	"arts/src/types"

	"gorm.io/gorm"
)

// TicketStore is the persistence gateway consumed by the lifecycle manager.
// It executes parameterized operations against durable storage and carries no
// workflow knowledge; the conditional update is the primitive every state
// transition serializes through.
type TicketStore interface {
	Insert(ctx context.Context, ticket *models.Ticket) error
	Get(ctx context.Context, id string) (*models.Ticket, error)
	// UpdateStatusIf flips the status only when the persisted status matches
	// expected, stamping last_transition_at. Returns false on mismatch or on
	// an unknown id; it never errors for either.
	UpdateStatusIf(ctx context.Context, id string, expected, next types.TicketStatus, at time.Time) (bool, error)
	// Delete physically removes the row. Returns false when the id was
	// already gone.
	Delete(ctx context.Context, id string) (bool, error)
	// ListByStatusOlderThan returns up to limit tickets in the given status
	// whose last transition predates cutoff. A ticket that never transitioned
	// carries its creation time there, so submitted-expiry and
	// terminal-retention sweeps share this one query.
	ListByStatusOlderThan(ctx context.Context, status types.TicketStatus, cutoff time.Time, limit int) ([]models.Ticket, error)
	// Transaction runs fn against a store whose writes commit atomically; any
	// returned error rolls every one of them back.
	Transaction(ctx context.Context, fn func(TicketStore) error) error
}

type gormTicketStore struct {
	db *gorm.DB
}

func NewTicketStore(db *gorm.DB) TicketStore {
	return &gormTicketStore{db: db}
}

func (s *gormTicketStore) Insert(ctx context.Context, ticket *models.Ticket) error {
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return fmt.Errorf("%w: %s", ErrStorage, err.Error())
	}
	return nil
}

func (s *gormTicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Where(&models.Ticket{ID: id}).
		First(&ticket).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %s", ErrStorage, err.Error())
	}
	return &ticket, nil
}

func (s *gormTicketStore) UpdateStatusIf(ctx context.Context, id string, expected, next types.TicketStatus, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Ticket{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{
			"status":             next,
			"last_transition_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("%w: %s", ErrStorage, res.Error.Error())
	}
	return res.RowsAffected > 0, nil
}

func (s *gormTicketStore) Delete(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Ticket{})
	if res.Error != nil {
		return false, fmt.Errorf("%w: %s", ErrStorage, res.Error.Error())
	}
	return res.RowsAffected > 0, nil
}

func (s *gormTicketStore) ListByStatusOlderThan(ctx context.Context, status types.TicketStatus, cutoff time.Time, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_transition_at < ?", status, cutoff).
		Order("last_transition_at asc").
		Limit(limit).
		Find(&tickets).
		Error
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStorage, err.Error())
	}
	return tickets, nil
}

func (s *gormTicketStore) Transaction(ctx context.Context, fn func(TicketStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTicketStore{db: tx})
	})
}

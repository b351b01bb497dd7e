// Package capacity owns the per-staff and per-unit WIP counters. All changes
// go through the conditional updates of the backing store.
package capacity

import (
	"context"
	"errors"
	"log/slog"

	"casework/internal/assignment/ports"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/sentinel"
)

type Service struct {
	store  ports.CapacityStore
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store ports.CapacityStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("capacity store is required")
	}
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TryReserve claims one slot for staffID if both the individual and the unit
// limit allow it. A false result is a normal outcome, not an error.
func (s *Service) TryReserve(ctx context.Context, staffID id.UserID) (bool, error) {
	ok, err := s.store.TryReserve(ctx, staffID)
	if err != nil {
		return false, translate(err, "reserve capacity")
	}
	return ok, nil
}

// ForceReserve claims a slot regardless of limits and reports whether a limit
// was exceeded.
func (s *Service) ForceReserve(ctx context.Context, staffID id.UserID) (bool, error) {
	exceeded, err := s.store.ForceReserve(ctx, staffID)
	if err != nil {
		return false, translate(err, "force reserve capacity")
	}
	if exceeded && s.logger != nil {
		s.logger.WarnContext(ctx, "capacity limit exceeded by forced reservation",
			"staff_id", staffID.String(),
		)
	}
	return exceeded, nil
}

func (s *Service) Release(ctx context.Context, staffID id.UserID) error {
	if err := s.store.Release(ctx, staffID); err != nil {
		return translate(err, "release capacity")
	}
	return nil
}

// Transfer moves one reservation from one staff member to another in the same
// unit. The unit total is unchanged, so only the target's limit is checked.
func (s *Service) Transfer(ctx context.Context, from, to id.UserID) (bool, error) {
	ok, err := s.store.Transfer(ctx, from, to)
	if err != nil {
		return false, translate(err, "transfer capacity")
	}
	return ok, nil
}

func translate(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "staff member not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, action)
}

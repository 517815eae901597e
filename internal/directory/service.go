package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/genbaflow/genbaflow/internal/platform/cache"
)

// Service resolves approvers and users, caching position lookups briefly so
// route instantiation does not hammer the user store.
type Service struct {
	repo   Repository
	cache  *cache.Cache
	logger *slog.Logger
}

// NewService constructs a Service. The cache may be nil.
func NewService(repo Repository, c *cache.Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: c, logger: logger}
}

// GetUser loads a single user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

func approverCacheKey(position Position, companyID int64) string {
	return fmt.Sprintf("directory:approver:%d:%s", companyID, position)
}

// FindApprover resolves the single active holder of a position within a
// company, or nil when nobody holds it. Ties break on the explicit primary
// holder designation first, then the newest account.
func (s *Service) FindApprover(ctx context.Context, position Position, companyID int64) (*User, error) {
	key := approverCacheKey(position, companyID)
	var cached User
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrMiss) && s.logger != nil {
		s.logger.Warn("approver cache read", slog.Any("error", err))
	}

	users, err := s.repo.FindByPosition(ctx, position, companyID, true)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	winner := users[0]
	if err := s.cache.Set(ctx, key, winner); err != nil && s.logger != nil {
		s.logger.Warn("approver cache write", slog.Any("error", err))
	}
	return &winner, nil
}

// InvalidateApprover drops the cached winner after roster changes.
func (s *Service) InvalidateApprover(ctx context.Context, position Position, companyID int64) error {
	return s.cache.Invalidate(ctx, approverCacheKey(position, companyID))
}

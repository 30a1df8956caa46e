package moduleaccess

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const bulkWorkerCount = 10

// BulkCheck is one CanPerform question.
type BulkCheck struct {
	UserID       uint   `json:"user_id"`
	ModuleName   string `json:"module"`
	RequiredRole Role   `json:"role"`
}

// BulkCheckResult pairs a BulkCheck with its answer. Err is set only for
// storage failures; a denial is Allowed=false with no error.
type BulkCheckResult struct {
	BulkCheck
	Allowed bool  `json:"allowed"`
	Err     error `json:"-"`
}

// CheckBulk evaluates checks concurrently and returns results in input order.
func (s *Service) CheckBulk(ctx context.Context, checks []BulkCheck, now time.Time) []BulkCheckResult {
	results := make([]BulkCheckResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkWorkerCount)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			allowed, err := s.CanPerform(gctx, check.UserID, check.ModuleName, check.RequiredRole, now)
			results[i] = BulkCheckResult{BulkCheck: check, Allowed: allowed, Err: err}
			// Per-check errors are reported in the result, not used to cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// BulkGrant grants moduleName to every user in userIDs in one transaction.
// Either all grants are written or none are.
func (s *Service) BulkGrant(ctx context.Context, userIDs []uint, moduleName string, grantedBy uint, notes string, now time.Time, opts ...LifetimeOption) ([]AccessGrant, error) {
	if len(userIDs) == 0 || moduleName == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.requireModule(ctx, moduleName); err != nil {
		return nil, err
	}

	grants := make([]AccessGrant, 0, len(userIDs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.Grants.withTx(tx)
		for _, userID := range userIDs {
			grant, err := store.Grant(ctx, userID, moduleName, grantedBy, notes, now, opts...)
			if err != nil {
				return err
			}
			grants = append(grants, *grant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("module_access_bulk_granted",
		zap.String("module", moduleName),
		zap.Int("users", len(userIDs)),
		zap.Uint("granted_by", grantedBy),
	)
	return grants, nil
}

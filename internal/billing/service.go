package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/meridianhq/meridian/internal/shared"
)

// Service orchestrates plan and subscription lifecycle operations.
type Service struct {
	logger   *slog.Logger
	repo     Repository
	resolver *Resolver
}

// NewService builds a Service instance.
func NewService(logger *slog.Logger, repo Repository, resolver *Resolver) *Service {
	return &Service{logger: logger, repo: repo, resolver: resolver}
}

// Resolver exposes the entitlement resolver for the access engine.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// CreatePlan registers a pricing template.
func (s *Service) CreatePlan(ctx context.Context, plan SubscriptionPlan) (SubscriptionPlan, error) {
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Name == "" {
		return SubscriptionPlan{}, shared.ValidationError("plan name required")
	}
	if plan.BasePrice < 0 {
		return SubscriptionPlan{}, shared.ValidationError("plan base price cannot be negative")
	}
	if plan.PricePerUser {
		if plan.MinUsers < 1 {
			return SubscriptionPlan{}, shared.ValidationError("per-user plans require min users >= 1")
		}
		if plan.MaxUsers > 0 && plan.MaxUsers < plan.MinUsers {
			return SubscriptionPlan{}, shared.ValidationError("plan max users cannot be below min users")
		}
	}
	plan.IsActive = true
	return s.repo.CreatePlan(ctx, plan)
}

// ListPlans returns all plans.
func (s *Service) ListPlans(ctx context.Context) ([]SubscriptionPlan, error) {
	return s.repo.ListPlans(ctx)
}

// GetPlan fetches one plan.
func (s *Service) GetPlan(ctx context.Context, id int64) (SubscriptionPlan, error) {
	return s.repo.GetPlan(ctx, id)
}

// AddPlanModule attaches a module grant to a plan.
func (s *Service) AddPlanModule(ctx context.Context, planID, moduleID int64) error {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return err
	}
	return s.repo.AddPlanModule(ctx, planID, moduleID)
}

// AddPlanPermission attaches a permission grant to a plan.
func (s *Service) AddPlanPermission(ctx context.Context, planID, permissionID int64) error {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return err
	}
	return s.repo.AddPlanPermission(ctx, planID, permissionID)
}

// CreateSubscriptionRequest carries the inputs for a new subscription.
type CreateSubscriptionRequest struct {
	CompanyID int64
	PlanID    int64
	UserCount int
	Discount  float64
	StartsAt  time.Time
	EndsAt    *time.Time
}

// CreateSubscription supersedes the company's current subscription and
// copies the plan's grants into the entitlement ledger. The whole sequence
// commits atomically: a failure anywhere leaves no partial state.
func (s *Service) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (CompanySubscription, error) {
	if req.CompanyID <= 0 {
		return CompanySubscription{}, shared.ValidationError("company id required")
	}
	plan, err := s.repo.GetPlan(ctx, req.PlanID)
	if err != nil {
		return CompanySubscription{}, err
	}
	if !plan.IsActive {
		return CompanySubscription{}, shared.ValidationError("plan %q is not available", plan.Name)
	}
	pricing, err := ComputePricing(plan, req.UserCount, 0, req.Discount)
	if err != nil {
		return CompanySubscription{}, err
	}
	if req.StartsAt.IsZero() {
		req.StartsAt = time.Now()
	}

	var created CompanySubscription
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, ok, err := tx.LockCurrentSubscription(ctx, req.CompanyID)
		if err != nil {
			return err
		}
		if ok {
			if err := tx.MarkSuperseded(ctx, current.ID); err != nil {
				return err
			}
			if err := tx.SoftDeletePlanEntitlements(ctx, req.CompanyID, current.ID); err != nil {
				return err
			}
		}

		created, err = tx.InsertSubscription(ctx, CompanySubscription{
			CompanyID: req.CompanyID,
			PlanID:    req.PlanID,
			Status:    SubscriptionActive,
			IsCurrent: true,
			UserCount: req.UserCount,
			Pricing:   pricing,
			StartsAt:  req.StartsAt,
			EndsAt:    req.EndsAt,
		})
		if err != nil {
			return err
		}

		grants, err := tx.PlanGrants(ctx, req.PlanID)
		if err != nil {
			return err
		}
		for _, moduleID := range grants.ModuleIDs {
			if err := tx.UpsertCompanyModule(ctx, CompanyModule{
				CompanyID:      req.CompanyID,
				ModuleID:       moduleID,
				Source:         SourcePlan,
				SubscriptionID: &created.ID,
			}); err != nil {
				return err
			}
		}
		for _, permissionID := range grants.PermissionIDs {
			if err := tx.UpsertCompanyPermission(ctx, CompanyPermission{
				CompanyID:      req.CompanyID,
				PermissionID:   permissionID,
				Source:         SourcePlan,
				SubscriptionID: &created.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CompanySubscription{}, err
	}

	s.resolver.Invalidate(ctx, req.CompanyID)
	s.logger.Info("subscription created",
		slog.Int64("company_id", req.CompanyID),
		slog.Int64("plan_id", req.PlanID),
		slog.Int64("subscription_id", created.ID))
	return created, nil
}

// CancelSubscription flips the current subscription's status. Entitlement
// ledger rows stay in place; the resolver's current-plan checks already
// exclude non-active subscriptions, and subscription-exempt permissions
// remain reachable regardless.
func (s *Service) CancelSubscription(ctx context.Context, companyID int64) error {
	return s.closeSubscription(ctx, companyID, SubscriptionCancelled)
}

// ExpireSubscription marks the current subscription as lapsed. Same
// entitlement consequences as a cancellation.
func (s *Service) ExpireSubscription(ctx context.Context, companyID int64) error {
	return s.closeSubscription(ctx, companyID, SubscriptionExpired)
}

func (s *Service) closeSubscription(ctx context.Context, companyID int64, status SubscriptionStatus) error {
	current, ok, err := s.repo.CurrentSubscription(ctx, companyID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NotFoundError("company %d has no current subscription", companyID)
	}
	if err := s.repo.UpdateSubscriptionStatus(ctx, current.ID, status); err != nil {
		return err
	}
	s.resolver.Invalidate(ctx, companyID)
	return nil
}

// ListSubscriptions returns the company's subscription history.
func (s *Service) ListSubscriptions(ctx context.Context, companyID int64) ([]CompanySubscription, error) {
	return s.repo.ListSubscriptions(ctx, companyID)
}

// PurchaseModuleAddon records a module add-on. Add-on rows persist across
// subscription renewals until explicitly removed.
func (s *Service) PurchaseModuleAddon(ctx context.Context, companyID, moduleID int64) error {
	err := s.repo.UpsertCompanyModule(ctx, CompanyModule{
		CompanyID: companyID,
		ModuleID:  moduleID,
		Source:    SourceAddon,
	})
	if err != nil {
		return err
	}
	s.resolver.Invalidate(ctx, companyID)
	return nil
}

// PurchasePermissionAddon records a permission add-on.
func (s *Service) PurchasePermissionAddon(ctx context.Context, companyID, permissionID int64) error {
	err := s.repo.UpsertCompanyPermission(ctx, CompanyPermission{
		CompanyID:    companyID,
		PermissionID: permissionID,
		Source:       SourceAddon,
	})
	if err != nil {
		return err
	}
	s.resolver.Invalidate(ctx, companyID)
	return nil
}

// RemoveModuleAddon retires a module ledger row.
func (s *Service) RemoveModuleAddon(ctx context.Context, companyID, moduleID int64) error {
	if err := s.repo.RemoveCompanyModule(ctx, companyID, moduleID); err != nil {
		return err
	}
	s.resolver.Invalidate(ctx, companyID)
	return nil
}

// RemovePermissionAddon retires a permission ledger row.
func (s *Service) RemovePermissionAddon(ctx context.Context, companyID, permissionID int64) error {
	if err := s.repo.RemoveCompanyPermission(ctx, companyID, permissionID); err != nil {
		return err
	}
	s.resolver.Invalidate(ctx, companyID)
	return nil
}

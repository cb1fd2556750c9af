package billing

import "github.com/meridianhq/meridian/internal/shared"

// Pricing is the computed breakdown stored on a subscription:
// total = base + addon - discount.
type Pricing struct {
	Base     float64 `json:"base"`
	Addon    float64 `json:"addon"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

// ComputePricing calculates the subscription price. For per-user plans the
// base is multiplied by the user count after the plan's min/max bounds are
// enforced; no additional minimum-charge floor is applied.
func ComputePricing(plan SubscriptionPlan, userCount int, addon, discount float64) (Pricing, error) {
	base := plan.BasePrice
	if plan.PricePerUser {
		if userCount < plan.MinUsers {
			return Pricing{}, shared.ValidationError("plan %q requires at least %d user(s)", plan.Name, plan.MinUsers)
		}
		if plan.MaxUsers > 0 && userCount > plan.MaxUsers {
			return Pricing{}, shared.ValidationError("plan %q allows at most %d user(s)", plan.Name, plan.MaxUsers)
		}
		base = plan.BasePrice * float64(userCount)
	}
	if addon < 0 {
		return Pricing{}, shared.ValidationError("addon price cannot be negative")
	}
	if discount < 0 {
		return Pricing{}, shared.ValidationError("discount cannot be negative")
	}
	return Pricing{
		Base:     base,
		Addon:    addon,
		Discount: discount,
		Total:    base + addon - discount,
	}, nil
}

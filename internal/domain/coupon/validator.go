package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator validates a coupon code against a cart and returns the
// computed discount.
type Validator interface {
	Validate(ctx context.Context, code string, cart Cart) (*Discount, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository and applying them via the Apply function.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the rule for code, checks its time window and usage
// limit, applies it to the cart and counts the use on success.
func (v *RepoValidator) Validate(ctx context.Context, code string, cart Cart) (*Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()
	if rule.StartsAt != nil && now.Before(*rule.StartsAt) {
		return nil, ErrCouponNotStarted
	}
	if rule.EndsAt != nil && now.After(*rule.EndsAt) {
		return nil, ErrCouponExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrCouponUsageLimitReached
	}

	d, err := Apply(rule, cart)
	if err != nil {
		return nil, err
	}

	if err := v.repo.IncrementUses(ctx, rule.Code); err != nil {
		return nil, errors.Wrap(err, "increment coupon uses")
	}

	return &d, nil
}

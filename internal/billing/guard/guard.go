package guard

import (
	"errors"
	"time"

	"github.com/smallbiznis/enrollment/internal/billing/domain"
	subscriptiondomain "github.com/smallbiznis/enrollment/internal/subscription/domain"
)

var (
	ErrSubscriptionNotBillable = errors.New("subscription_not_billable")
	ErrPeriodNotDue            = errors.New("billing_period_not_due")
	ErrClaimSettled            = errors.New("billing_claim_settled")
	ErrClaimHeld               = errors.New("billing_claim_held")
	ErrRetryNotDue             = errors.New("billing_retry_not_due")
)

func EnsureSubscriptionBillable(status subscriptiondomain.SubscriptionStatus, nextBillAt time.Time, now time.Time) error {
	switch status {
	case subscriptiondomain.SubscriptionStatusActive, subscriptiondomain.SubscriptionStatusPastDue:
	default:
		return ErrSubscriptionNotBillable
	}
	if now.Before(nextBillAt) {
		return ErrPeriodNotDue
	}
	return nil
}

// EnsureClaimChargeable rejects claims that are paid, held by a live worker,
// or declined too recently to retry.
func EnsureClaimChargeable(claim domain.PeriodClaim, now time.Time, lease, retryAfter time.Duration) error {
	switch claim.Status {
	case domain.ClaimStatusSucceeded:
		return ErrClaimSettled
	case domain.ClaimStatusInFlight:
		if claim.ClaimedAt != nil && now.Before(claim.ClaimedAt.Add(lease)) {
			return ErrClaimHeld
		}
	case domain.ClaimStatusDeclined:
		if now.Before(claim.UpdatedAt.Add(retryAfter)) {
			return ErrRetryNotDue
		}
	}
	return nil
}

// NextAttempt returns the attempt number to charge under and whether the
// previous attempt may have reached the gateway and must be looked up first.
// Only a decline moves to a fresh attempt.
func NextAttempt(claim domain.PeriodClaim) (int, bool) {
	switch claim.Status {
	case domain.ClaimStatusUnknown, domain.ClaimStatusInFlight:
		if claim.Attempt > 0 {
			return claim.Attempt, true
		}
		return 1, false
	case domain.ClaimStatusTransient:
		if claim.Attempt > 0 {
			return claim.Attempt, false
		}
		return 1, false
	default:
		return claim.Attempt + 1, false
	}
}

package notification

import "time"

// DefaultResponseRetryCooldown is the minimum age a delivered response
// request must reach before the same recipient may be asked again on the
// same task.
const DefaultResponseRetryCooldown = 4 * time.Hour

// RetryInput captures the recipient's history on one task for the retry
// decision. LatestRequest fields refer to the newest response request
// targeting the recipient; LatestReplyCreatedAt is the recipient's newest
// message on the task's thread, nil when they never replied.
type RetryInput struct {
	LatestRequestCreatedAt   *time.Time
	LatestRequestDeliveredAt *time.Time
	LatestReplyCreatedAt     *time.Time
	Now                      time.Time
	Cooldown                 time.Duration
}

// ShouldCreateResponseRequestRetry decides whether a new response request to
// the recipient is allowed. The rules, in order:
//
//  1. No prior request: allow.
//  2. The recipient replied after the latest request was created: allow,
//     the previous request was answered.
//  3. The latest request is still undelivered: block, it is still queued.
//  4. Otherwise allow only once the latest request is older than the
//     cooldown.
func ShouldCreateResponseRequestRetry(in RetryInput) bool {
	if in.LatestRequestCreatedAt == nil {
		return true
	}
	if in.LatestReplyCreatedAt != nil && in.LatestReplyCreatedAt.After(*in.LatestRequestCreatedAt) {
		return true
	}
	if in.LatestRequestDeliveredAt == nil {
		return false
	}
	cooldown := in.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultResponseRetryCooldown
	}
	return in.Now.Sub(*in.LatestRequestCreatedAt) >= cooldown
}

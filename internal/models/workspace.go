package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers. Pro is the top tier; exhausting it produces a
// contact-support denial rather than an upgrade prompt.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Subscription statuses as reported by the billing processor.
const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Workspace is one installed Slack organization (a tenant).
type Workspace struct {
	ID                 uuid.UUID  `json:"id"`
	SlackTeamID        string     `json:"slackTeamId"`
	TeamName           string     `json:"teamName"`
	BotToken           string     `json:"-"`
	BotUserID          string     `json:"botUserId"`
	AdminUserID        string     `json:"adminUserId"`
	Tier               string     `json:"tier"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// ResetDate returns when the workspace's usage counters next reset.
// Paid workspaces anchor on the stored billing period end, advanced
// past now when billing has gone stale; free workspaces roll monthly
// from the given anchor (the identity's current reset timestamp).
func (w *Workspace) ResetDate(anchor, now time.Time) time.Time {
	if w.CurrentPeriodEnd != nil {
		end := *w.CurrentPeriodEnd
		for !end.After(now) {
			end = end.AddDate(0, 1, 0)
		}
		return end
	}
	reset := anchor.AddDate(0, 1, 0)
	for !reset.After(now) {
		reset = reset.AddDate(0, 1, 0)
	}
	return reset
}

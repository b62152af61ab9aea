// Package quota enforces per-user, per-operation monthly allowances
// derived from the workspace subscription tier.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"slackcoach/internal/common/logger"
	"slackcoach/internal/common/metrics"
	"slackcoach/internal/models"
	"slackcoach/internal/store"
)

// Denial reasons surfaced to the user-facing layer.
const (
	DenyWorkspaceInactive = "workspace_inactive"
	DenySubscription      = "subscription_lapsed"
	DenyLimitReached      = "limit_reached"
	DenyLookupFailed      = "lookup_failed"
)

// Access is the gate verdict for one operation attempt.
type Access struct {
	Allowed         bool
	Reason          string
	User            *models.User
	Used            int
	Limit           int
	UpgradeRequired bool
	ResetDate       time.Time
}

type userStore interface {
	GetBySlackID(ctx context.Context, workspaceID uuid.UUID, slackUserID string) (*models.User, error)
	RolloverUsage(ctx context.Context, u *models.User, next time.Time) (bool, error)
	IncrementUsage(ctx context.Context, workspaceID uuid.UUID, slackUserID string, op models.OperationKind, limit int) error
}

// Gate answers "may this identity run this operation right now" and,
// separately, consumes a unit of quota. Checks are read-only so slash
// commands can show a denial without burning allowance.
type Gate struct {
	users  userStore
	logger logger.Logger
	now    func() time.Time
}

func NewGate(users userStore, log logger.Logger) *Gate {
	return &Gate{users: users, logger: log, now: time.Now}
}

// CheckAccess evaluates the gate without consuming quota. Any storage
// failure denies closed: a user seeing a transient denial is cheaper
// than unmetered analyzer spend.
func (g *Gate) CheckAccess(ctx context.Context, ws *models.Workspace, slackUserID string, op models.OperationKind) (*Access, error) {
	if !ws.Active {
		return g.denied(op, DenyWorkspaceInactive), nil
	}
	if ws.SubscriptionStatus == models.SubscriptionCanceled {
		return g.denied(op, DenySubscription), nil
	}

	user, err := g.fetchRolled(ctx, ws, slackUserID)
	if err != nil {
		g.logger.Error("quota lookup failed", map[string]interface{}{
			"slack_user_id": slackUserID,
			"operation":     string(op),
			"error":         err.Error(),
		})
		return g.denied(op, DenyLookupFailed), nil
	}

	limit := LimitsFor(ws.Tier).For(op)
	acc := &Access{
		User:      user,
		Used:      user.Usage(op),
		Limit:     limit,
		ResetDate: user.UsageResetsAt,
	}
	if acc.Used >= limit {
		acc.Reason = DenyLimitReached
		acc.UpgradeRequired = ws.Tier == models.TierFree
		metrics.QuotaDenials.WithLabelValues(string(op)).Inc()
		return acc, nil
	}
	acc.Allowed = true
	return acc, nil
}

// Consume atomically takes one unit of allowance. It can still deny
// when concurrent requests drained the last unit between CheckAccess
// and here; callers treat that exactly like a CheckAccess denial.
func (g *Gate) Consume(ctx context.Context, ws *models.Workspace, user *models.User, op models.OperationKind) (*Access, error) {
	limit := LimitsFor(ws.Tier).For(op)
	err := g.users.IncrementUsage(ctx, ws.ID, user.SlackUserID, op, limit)
	if errors.Is(err, store.ErrLimitReached) {
		metrics.QuotaDenials.WithLabelValues(string(op)).Inc()
		return &Access{
			User:            user,
			Reason:          DenyLimitReached,
			Used:            limit,
			Limit:           limit,
			UpgradeRequired: ws.Tier == models.TierFree,
			ResetDate:       user.UsageResetsAt,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Access{
		Allowed:   true,
		User:      user,
		Used:      user.Usage(op) + 1,
		Limit:     limit,
		ResetDate: user.UsageResetsAt,
	}, nil
}

// fetchRolled loads the user and applies the period rollover when one
// is due. A successful (or lost) rollover re-reads so the caller
// always sees post-reset counters.
func (g *Gate) fetchRolled(ctx context.Context, ws *models.Workspace, slackUserID string) (*models.User, error) {
	user, err := g.users.GetBySlackID(ctx, ws.ID, slackUserID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	next := ws.ResetDate(user.UsageResetsAt, now)
	if !rolloverDue(ws, user, now, next) {
		return user, nil
	}
	if _, err := g.users.RolloverUsage(ctx, user, next); err != nil {
		return nil, err
	}
	return g.users.GetBySlackID(ctx, ws.ID, slackUserID)
}

// rolloverDue detects a period transition by comparing the stored
// period end against wall-clock time. For paid workspaces the billing
// period is the anchor: a rolled billing period resets counters even
// while the user row still carries the old reset schedule.
func rolloverDue(ws *models.Workspace, u *models.User, now, next time.Time) bool {
	if !u.UsageResetsAt.After(now) {
		return true
	}
	return ws.CurrentPeriodEnd != nil && !ws.CurrentPeriodEnd.After(now) && !u.UsageResetsAt.Equal(next)
}

func (g *Gate) denied(op models.OperationKind, reason string) *Access {
	metrics.QuotaDenials.WithLabelValues(string(op)).Inc()
	return &Access{Reason: reason}
}

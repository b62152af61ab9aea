// Package store implements the persistence ports of the pipeline:
// workspace, user, and channel-membership repositories over PostgreSQL
// with a redis read-through cache in front of the hot lookups.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	workspaceCacheTTL = 5 * time.Minute
	userCacheTTL      = 1 * time.Minute
	memberCacheTTL    = 10 * time.Minute
)

var ErrNotFound = errors.New("not found")

type WorkspaceRepository struct {
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

func NewWorkspaceRepository(db *sql.DB, rdb *redis.Client, log logger.Logger) *WorkspaceRepository {
	return &WorkspaceRepository{db: db, redis: rdb, logger: log}
}

func workspaceCacheKey(teamID string) string {
	return "ws:" + teamID
}

const workspaceColumns = `id, slack_team_id, team_name, bot_token, bot_user_id, admin_user_id,
	tier, subscription_status, current_period_end, active, created_at, updated_at`

func scanWorkspace(row *sql.Row) (*models.Workspace, error) {
	ws := &models.Workspace{}
	err := row.Scan(&ws.ID, &ws.SlackTeamID, &ws.TeamName, &ws.BotToken, &ws.BotUserID,
		&ws.AdminUserID, &ws.Tier, &ws.SubscriptionStatus, &ws.CurrentPeriodEnd,
		&ws.Active, &ws.CreatedAt, &ws.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// GetBySlackTeamID resolves a workspace by its external team identifier.
// Cache first; a miss falls through to the database and refills.
func (r *WorkspaceRepository) GetBySlackTeamID(ctx context.Context, teamID string) (*models.Workspace, error) {
	key := workspaceCacheKey(teamID)
	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, key).Result(); err == nil {
			ws := &models.Workspace{}
			if err := json.Unmarshal([]byte(cached), ws); err == nil {
				return ws, nil
			}
		}
	}

	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE slack_team_id = $1`
	ws, err := scanWorkspace(r.db.QueryRowContext(ctx, query, teamID))
	if err != nil {
		return nil, err
	}

	r.cacheWorkspace(ctx, key, ws)
	return ws, nil
}

func (r *WorkspaceRepository) cacheWorkspace(ctx context.Context, key string, ws *models.Workspace) {
	if r.redis == nil {
		return
	}
	if data, err := json.Marshal(ws); err == nil {
		if err := r.redis.SetEx(ctx, key, data, workspaceCacheTTL).Err(); err != nil {
			r.logger.Debug("workspace cache write failed", map[string]interface{}{
				"teamId": ws.SlackTeamID, "error": err.Error(),
			})
		}
	}
}

func (r *WorkspaceRepository) invalidate(ctx context.Context, teamID string) {
	if r.redis != nil {
		r.redis.Del(ctx, workspaceCacheKey(teamID))
	}
}

// UpsertInstall creates a workspace on first installation and refreshes
// credential, bot identity, and admin on re-auth. A re-install of a
// soft-deactivated workspace reactivates it; usage history is retained.
func (r *WorkspaceRepository) UpsertInstall(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == uuid.Nil {
		ws.ID = uuid.New()
	}
	if ws.Tier == "" {
		ws.Tier = models.TierFree
	}
	if ws.SubscriptionStatus == "" {
		ws.SubscriptionStatus = models.SubscriptionActive
	}
	now := time.Now()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	query := `INSERT INTO workspaces
		(id, slack_team_id, team_name, bot_token, bot_user_id, admin_user_id,
		 tier, subscription_status, current_period_end, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10, $10)
		ON CONFLICT (slack_team_id) DO UPDATE SET
			team_name = EXCLUDED.team_name,
			bot_token = EXCLUDED.bot_token,
			bot_user_id = EXCLUDED.bot_user_id,
			admin_user_id = EXCLUDED.admin_user_id,
			active = TRUE,
			updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query, ws.ID, ws.SlackTeamID, ws.TeamName,
		ws.BotToken, ws.BotUserID, ws.AdminUserID, ws.Tier, ws.SubscriptionStatus,
		ws.CurrentPeriodEnd, now)
	if err != nil {
		return fmt.Errorf("upsert workspace: %w", err)
	}

	r.invalidate(ctx, ws.SlackTeamID)
	return nil
}

// UpdateSubscription applies a tier/status/period change reported by the
// billing processor. Only the counters-facing fields live here; the
// billing state machine itself is out of scope.
func (r *WorkspaceRepository) UpdateSubscription(ctx context.Context, teamID, tier, status string, periodEnd *time.Time) error {
	query := `UPDATE workspaces SET tier = $2, subscription_status = $3,
		current_period_end = $4, updated_at = now() WHERE slack_team_id = $1`
	res, err := r.db.ExecContext(ctx, query, teamID, tier, status, periodEnd)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	r.invalidate(ctx, teamID)
	return nil
}

// Deactivate soft-deletes a workspace on uninstall or token revocation:
// the workspace and its users become inactive and its channel
// memberships are removed, while usage history stays intact.
func (r *WorkspaceRepository) Deactivate(ctx context.Context, teamID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate: %w", err)
	}
	defer tx.Rollback()

	var wsID uuid.UUID
	err = tx.QueryRowContext(ctx,
		`UPDATE workspaces SET active = FALSE, bot_token = '', updated_at = now()
		 WHERE slack_team_id = $1 RETURNING id`, teamID).Scan(&wsID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deactivate workspace: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET active = FALSE, updated_at = now() WHERE workspace_id = $1`, wsID); err != nil {
		return fmt.Errorf("deactivate users: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM channel_memberships WHERE workspace_id = $1`, wsID); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deactivate: %w", err)
	}

	// User and membership cache entries for this workspace age out by
	// TTL; the authoritative rows are already inactive or gone.
	r.invalidate(ctx, teamID)
	r.logger.Info("workspace deactivated", map[string]interface{}{"teamId": teamID})
	return nil
}

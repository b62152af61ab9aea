package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"slackcoach/internal/common/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MembershipRepository is the channel membership registry. A row's
// existence is the single authority for channel observability; it is
// mutated only by join/leave notifications, never inferred from message
// events.
type MembershipRepository struct {
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

func NewMembershipRepository(db *sql.DB, rdb *redis.Client, log logger.Logger) *MembershipRepository {
	return &MembershipRepository{db: db, redis: rdb, logger: log}
}

func memberCacheKey(workspaceID uuid.UUID, channelID string) string {
	return fmt.Sprintf("member:%s:%s", workspaceID, channelID)
}

// RecordJoin upserts a membership. Duplicate joins are no-ops.
func (r *MembershipRepository) RecordJoin(ctx context.Context, workspaceID uuid.UUID, channelID, channelName string) error {
	query := `INSERT INTO channel_memberships (workspace_id, channel_id, channel_name, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, channel_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, workspaceID, channelID, channelName, time.Now()); err != nil {
		return fmt.Errorf("record join: %w", err)
	}

	if r.redis != nil {
		r.redis.Del(ctx, memberCacheKey(workspaceID, channelID))
	}
	return nil
}

// RecordLeave deletes a membership. Leaving an unknown channel is a
// no-op, not an error.
func (r *MembershipRepository) RecordLeave(ctx context.Context, workspaceID uuid.UUID, channelID string) error {
	query := `DELETE FROM channel_memberships WHERE workspace_id = $1 AND channel_id = $2`
	if _, err := r.db.ExecContext(ctx, query, workspaceID, channelID); err != nil {
		return fmt.Errorf("record leave: %w", err)
	}

	if r.redis != nil {
		r.redis.Del(ctx, memberCacheKey(workspaceID, channelID))
	}
	return nil
}

// IsMember is the existence check every downstream consumer gates on.
func (r *MembershipRepository) IsMember(ctx context.Context, workspaceID uuid.UUID, channelID string) (bool, error) {
	key := memberCacheKey(workspaceID, channelID)
	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, key).Result(); err == nil {
			return cached == "1", nil
		}
	}

	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM channel_memberships WHERE workspace_id = $1 AND channel_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, workspaceID, channelID).Scan(&exists); err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}

	if r.redis != nil {
		val := "0"
		if exists {
			val = "1"
		}
		r.redis.SetEx(ctx, key, val, memberCacheTTL)
	}
	return exists, nil
}

// ListForWorkspace returns the channel ids currently observable for a
// workspace, for the settings surface.
func (r *MembershipRepository) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT channel_id FROM channel_memberships WHERE workspace_id = $1 ORDER BY channel_name`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

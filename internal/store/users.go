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

// ErrLimitReached is returned by IncrementUsage when the conditional
// increment found the counter already at its limit.
var ErrLimitReached = errors.New("usage limit reached")

type UserRepository struct {
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

func NewUserRepository(db *sql.DB, rdb *redis.Client, log logger.Logger) *UserRepository {
	return &UserRepository{db: db, redis: rdb, logger: log}
}

func userCacheKey(workspaceID uuid.UUID, slackUserID string) string {
	return fmt.Sprintf("user:%s:%s", workspaceID, slackUserID)
}

const userColumns = `id, workspace_id, slack_user_id, display_name, onboarded, active,
	COALESCE(user_token, ''), coaching_flags, auto_coach_channels,
	usage_auto_coach, usage_rephrase, usage_feedback, usage_resets_at, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var flags, channels []byte
	err := row.Scan(&u.ID, &u.WorkspaceID, &u.SlackUserID, &u.DisplayName, &u.Onboarded,
		&u.Active, &u.UserToken, &flags, &channels,
		&u.UsageAutoCoach, &u.UsageRephrase, &u.UsageFeedback, &u.UsageResetsAt,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flags, &u.CoachingFlags); err != nil {
		return nil, fmt.Errorf("decode coaching_flags: %w", err)
	}
	if err := json.Unmarshal(channels, &u.AutoCoachChannels); err != nil {
		return nil, fmt.Errorf("decode auto_coach_channels: %w", err)
	}
	return u, nil
}

// GetBySlackID resolves a user by (workspace, external id), cache first.
func (r *UserRepository) GetBySlackID(ctx context.Context, workspaceID uuid.UUID, slackUserID string) (*models.User, error) {
	key := userCacheKey(workspaceID, slackUserID)
	if r.redis != nil {
		if cached, err := r.redis.Get(ctx, key).Result(); err == nil {
			u := &models.User{}
			if err := json.Unmarshal([]byte(cached), u); err == nil {
				return u, nil
			}
		}
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE workspace_id = $1 AND slack_user_id = $2`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, workspaceID, slackUserID))
	if err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(u); err == nil {
			r.redis.SetEx(ctx, key, data, userCacheTTL)
		}
	}
	return u, nil
}

func (r *UserRepository) invalidate(ctx context.Context, workspaceID uuid.UUID, slackUserID string) {
	if r.redis != nil {
		r.redis.Del(ctx, userCacheKey(workspaceID, slackUserID))
	}
}

// Onboard creates a user with the default flag set, or re-activates and
// marks onboarded an existing row. Usage counters are never touched by
// onboarding.
func (r *UserRepository) Onboard(ctx context.Context, workspaceID uuid.UUID, slackUserID, displayName string) (*models.User, error) {
	flags, err := json.Marshal(models.DefaultCoachingFlags())
	if err != nil {
		return nil, fmt.Errorf("encode default flags: %w", err)
	}

	now := time.Now()
	query := `INSERT INTO users
		(id, workspace_id, slack_user_id, display_name, onboarded, active,
		 coaching_flags, auto_coach_channels, usage_resets_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, TRUE, $5, '[]', $6, $7, $7)
		ON CONFLICT (workspace_id, slack_user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			onboarded = TRUE,
			active = TRUE,
			updated_at = EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, query, uuid.New(), workspaceID, slackUserID,
		displayName, flags, now.AddDate(0, 1, 0), now)
	if err != nil {
		return nil, fmt.Errorf("onboard user: %w", err)
	}

	r.invalidate(ctx, workspaceID, slackUserID)
	return r.GetBySlackID(ctx, workspaceID, slackUserID)
}

// UpdateSettings replaces the user's coaching flags and channel
// enabled-set. Callers validate the flag set before calling.
func (r *UserRepository) UpdateSettings(ctx context.Context, workspaceID uuid.UUID, slackUserID string, flags []models.CoachingFlag, channels []string) error {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("encode coaching_flags: %w", err)
	}
	if channels == nil {
		channels = []string{}
	}
	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("encode auto_coach_channels: %w", err)
	}

	query := `UPDATE users SET coaching_flags = $3, auto_coach_channels = $4, updated_at = now()
		WHERE workspace_id = $1 AND slack_user_id = $2`
	res, err := r.db.ExecContext(ctx, query, workspaceID, slackUserID, flagsJSON, channelsJSON)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	r.invalidate(ctx, workspaceID, slackUserID)
	return nil
}

// SetUserToken stores the per-user credential used for message edits.
func (r *UserRepository) SetUserToken(ctx context.Context, workspaceID uuid.UUID, slackUserID, token string) error {
	query := `UPDATE users SET user_token = $3, updated_at = now()
		WHERE workspace_id = $1 AND slack_user_id = $2`
	res, err := r.db.ExecContext(ctx, query, workspaceID, slackUserID, token)
	if err != nil {
		return fmt.Errorf("set user token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	r.invalidate(ctx, workspaceID, slackUserID)
	return nil
}

func usageColumn(op models.OperationKind) (string, error) {
	switch op {
	case models.OpAutoCoach:
		return "usage_auto_coach", nil
	case models.OpRephrase:
		return "usage_rephrase", nil
	case models.OpFeedback:
		return "usage_feedback", nil
	}
	return "", fmt.Errorf("unknown operation kind %q", op)
}

// IncrementUsage bumps the counter for op by one, atomically and only
// while it is still below limit. Concurrent increments are serialized by
// the database, so the counter can never pass the limit no matter how
// many requests raced through the gate.
func (r *UserRepository) IncrementUsage(ctx context.Context, workspaceID uuid.UUID, slackUserID string, op models.OperationKind, limit int) error {
	col, err := usageColumn(op)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE users SET %s = %s + 1, updated_at = now()
		WHERE workspace_id = $1 AND slack_user_id = $2 AND %s < $3`, col, col, col)
	res, err := r.db.ExecContext(ctx, query, workspaceID, slackUserID, limit)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows is either a counter at its limit or no such user;
		// only the first maps to ErrLimitReached.
		var one int
		err := r.db.QueryRowContext(ctx,
			`SELECT 1 FROM users WHERE workspace_id = $1 AND slack_user_id = $2`,
			workspaceID, slackUserID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		return ErrLimitReached
	}

	r.invalidate(ctx, workspaceID, slackUserID)
	return nil
}

// RolloverUsage zeroes the counters and advances the reset timestamp
// to next. The caller decides when a reset is due; the compare-and-set
// on the old timestamp makes it happen exactly once per period
// transition even under concurrent checks. Losing the race means
// someone else already reset.
func (r *UserRepository) RolloverUsage(ctx context.Context, u *models.User, next time.Time) (bool, error) {
	query := `UPDATE users SET usage_auto_coach = 0, usage_rephrase = 0, usage_feedback = 0,
		usage_resets_at = $3, updated_at = now()
		WHERE id = $1 AND usage_resets_at = $2`
	res, err := r.db.ExecContext(ctx, query, u.ID, u.UsageResetsAt, next)
	if err != nil {
		return false, fmt.Errorf("rollover usage: %w", err)
	}

	r.invalidate(ctx, u.WorkspaceID, u.SlackUserID)
	n, _ := res.RowsAffected()
	return n > 0, nil
}

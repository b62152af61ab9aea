package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"
)

func newUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(db, nil, logger.NewTestLogger(t)), mock
}

func userRowColumns() []string {
	return []string{
		"id", "workspace_id", "slack_user_id", "display_name", "onboarded", "active",
		"user_token", "coaching_flags", "auto_coach_channels",
		"usage_auto_coach", "usage_rephrase", "usage_feedback", "usage_resets_at",
		"created_at", "updated_at",
	}
}

func userRow(t *testing.T, wsID uuid.UUID, slackUserID string) *sqlmock.Rows {
	t.Helper()
	flags, err := json.Marshal(models.DefaultCoachingFlags())
	require.NoError(t, err)
	now := time.Now()
	return sqlmock.NewRows(userRowColumns()).AddRow(
		uuid.New(), wsID, slackUserID, "sam", true, true,
		"", flags, []byte(`["C100"]`),
		2, 1, 0, now.AddDate(0, 1, 0), now, now,
	)
}

func TestUserRepository_GetBySlackID(t *testing.T) {
	repo, mock := newUserRepo(t)
	wsID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE workspace_id = $1 AND slack_user_id = $2")).
		WithArgs(wsID, "U100").
		WillReturnRows(userRow(t, wsID, "U100"))

	u, err := repo.GetBySlackID(context.Background(), wsID, "U100")
	require.NoError(t, err)
	assert.Equal(t, "U100", u.SlackUserID)
	assert.Len(t, u.CoachingFlags, 4)
	assert.Equal(t, []string{"C100"}, u.AutoCoachChannels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetBySlackID_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	wsID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs(wsID, "UNOPE").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetBySlackID(context.Background(), wsID, "UNOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository_IncrementUsage(t *testing.T) {
	repo, mock := newUserRepo(t)
	wsID := uuid.New()

	t.Run("under limit", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET usage_rephrase = usage_rephrase + 1")).
			WithArgs(wsID, "U100", 5).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.IncrementUsage(context.Background(), wsID, "U100", models.OpRephrase, 5)
		assert.NoError(t, err)
	})

	t.Run("at limit", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET usage_rephrase = usage_rephrase + 1")).
			WithArgs(wsID, "U100", 5).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM users WHERE workspace_id = $1 AND slack_user_id = $2")).
			WithArgs(wsID, "U100").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		err := repo.IncrementUsage(context.Background(), wsID, "U100", models.OpRephrase, 5)
		assert.ErrorIs(t, err, ErrLimitReached)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET usage_rephrase = usage_rephrase + 1")).
			WithArgs(wsID, "U404", 5).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM users WHERE workspace_id = $1 AND slack_user_id = $2")).
			WithArgs(wsID, "U404").
			WillReturnError(sql.ErrNoRows)

		err := repo.IncrementUsage(context.Background(), wsID, "U404", models.OpRephrase, 5)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown operation", func(t *testing.T) {
		err := repo.IncrementUsage(context.Background(), wsID, "U100", models.OperationKind("bogus"), 5)
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RolloverUsage(t *testing.T) {
	repo, mock := newUserRepo(t)
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	t.Run("won the race", func(t *testing.T) {
		resetAt := now.AddDate(0, 0, -5)
		u := &models.User{ID: uuid.New(), UsageResetsAt: resetAt}

		mock.ExpectExec(regexp.QuoteMeta("usage_resets_at = $2")).
			WithArgs(u.ID, resetAt, resetAt.AddDate(0, 1, 0)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rolled, err := repo.RolloverUsage(context.Background(), u, resetAt.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.True(t, rolled)
	})

	t.Run("lost the race", func(t *testing.T) {
		resetAt := now.AddDate(0, 0, -5)
		u := &models.User{ID: uuid.New(), UsageResetsAt: resetAt}

		mock.ExpectExec(regexp.QuoteMeta("usage_resets_at = $2")).
			WithArgs(u.ID, resetAt, resetAt.AddDate(0, 1, 0)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		rolled, err := repo.RolloverUsage(context.Background(), u, resetAt.AddDate(0, 1, 0))
		require.NoError(t, err)
		assert.False(t, rolled)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Onboard(t *testing.T) {
	repo, mock := newUserRepo(t)
	wsID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE workspace_id = $1 AND slack_user_id = $2")).
		WithArgs(wsID, "U200").
		WillReturnRows(userRow(t, wsID, "U200"))

	u, err := repo.Onboard(context.Background(), wsID, "U200", "jo")
	require.NoError(t, err)
	assert.True(t, u.Onboarded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_UpdateSettings(t *testing.T) {
	repo, mock := newUserRepo(t)
	wsID := uuid.New()
	flags := []models.CoachingFlag{{Name: "tone", Description: "d", Enabled: true}}

	t.Run("persists flags and channels", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET coaching_flags = $3, auto_coach_channels = $4")).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateSettings(context.Background(), wsID, "U100", flags, []string{"C100"})
		assert.NoError(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET coaching_flags = $3, auto_coach_channels = $4")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateSettings(context.Background(), wsID, "UNOPE", flags, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

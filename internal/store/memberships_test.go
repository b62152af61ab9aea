package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackcoach/internal/common/logger"
)

func newMembershipRepo(t *testing.T) (*MembershipRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMembershipRepository(db, nil, logger.NewTestLogger(t)), mock
}

func TestMembershipRepository_RecordJoin(t *testing.T) {
	repo, mock := newMembershipRepo(t)
	wsID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_memberships")).
		WithArgs(wsID, "C100", "general", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordJoin(context.Background(), wsID, "C100", "general")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_RecordLeave(t *testing.T) {
	repo, mock := newMembershipRepo(t)
	wsID := uuid.New()

	// Leaving an unknown channel deletes zero rows and is not an error.
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM channel_memberships")).
		WithArgs(wsID, "C404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordLeave(context.Background(), wsID, "C404")
	assert.NoError(t, err)
}

func TestMembershipRepository_IsMember(t *testing.T) {
	repo, mock := newMembershipRepo(t)
	wsID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(wsID, "C100").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(wsID, "C404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	in, err := repo.IsMember(context.Background(), wsID, "C100")
	require.NoError(t, err)
	assert.True(t, in)

	out, err := repo.IsMember(context.Background(), wsID, "C404")
	require.NoError(t, err)
	assert.False(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepository_ListForWorkspace(t *testing.T) {
	repo, mock := newMembershipRepo(t)
	wsID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT channel_id FROM channel_memberships")).
		WithArgs(wsID).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id"}).AddRow("C100").AddRow("C200"))

	ids, err := repo.ListForWorkspace(context.Background(), wsID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C100", "C200"}, ids)
}

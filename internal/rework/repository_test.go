package rework

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osuAkatsuki/performance-service/pkg/models"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestGetReturnsNilWhenAbsent(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT \* FROM reworks WHERE rework_id = \$1`).
		WithArgs(int32(9)).
		WillReturnRows(sqlmock.NewRows([]string{"rework_id", "rework_name", "mode", "rx", "updated_at"}))

	rw, err := repo.Get(context.Background(), 9)

	require.NoError(t, err)
	assert.Nil(t, rw)
}

func TestGetReturnsReworkWhenPresent(t *testing.T) {
	repo, mock := newTestRepo(t)
	updatedAt := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(`SELECT \* FROM reworks WHERE rework_id = \$1`).
		WithArgs(int32(9)).
		WillReturnRows(sqlmock.NewRows([]string{"rework_id", "rework_name", "mode", "rx", "updated_at"}).
			AddRow(int32(9), "everything at once", int32(0), int32(0), updatedAt))

	rw, err := repo.Get(context.Background(), 9)

	require.NoError(t, err)
	require.NotNil(t, rw)
	assert.Equal(t, int32(9), rw.ReworkID)
	assert.Equal(t, "scores", rw.ScoresTable())
}

func TestUpsertScoreIssuesOnConflictUpdate(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`INSERT INTO rework_scores`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertScore(context.Background(), models.ReworkScore{
		ScoreID: 1, UserID: 2, ReworkID: 3, BeatmapID: 4, NewPP: 100.5, OldPP: 90,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertStatsIssuesOnConflictUpdate(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`INSERT INTO rework_stats`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertStats(context.Background(), models.ReworkStats{UserID: 1, ReworkID: 2, NewPP: 500})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAllForReworkDeletesAllThreeTables(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`DELETE FROM rework_scores WHERE rework_id = \$1`).WithArgs(int32(5)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM rework_stats WHERE rework_id = \$1`).WithArgs(int32(5)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM rework_queue WHERE rework_id = \$1`).WithArgs(int32(5)).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteAllForRework(context.Background(), 5)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAllForUserScopesToUserAndRework(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`DELETE FROM rework_scores WHERE rework_id = \$1 AND user_id = \$2`).WithArgs(int32(5), int32(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM rework_stats WHERE rework_id = \$1 AND user_id = \$2`).WithArgs(int32(5), int32(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM rework_queue WHERE rework_id = \$1 AND user_id = \$2`).WithArgs(int32(5), int32(7)).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteAllForUser(context.Background(), 5, 7)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueStateReturnsNilWhenAbsent(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT user_id, rework_id, processed_at FROM rework_queue`).
		WithArgs(int32(1), int32(2)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "rework_id", "processed_at"}))

	entry, err := repo.QueueState(context.Background(), 1, 2)

	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestQueueStateReturnsNilProcessedAtForNullRow(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT user_id, rework_id, processed_at FROM rework_queue`).
		WithArgs(int32(1), int32(2)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "rework_id", "processed_at"}).
			AddRow(int32(1), int32(2), nil))

	entry, err := repo.QueueState(context.Background(), 1, 2)

	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Nil(t, entry.ProcessedAt)
}

func TestUpsertQueueClearsProcessedAt(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectExec(`INSERT INTO rework_queue \(user_id, rework_id, processed_at\)`).
		WithArgs(int32(1), int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertQueue(context.Background(), 1, 2)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchLeaderboardPageReturnsNilWhenReworkAbsent(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT \* FROM reworks WHERE rework_id = \$1`).
		WithArgs(int32(42)).
		WillReturnRows(sqlmock.NewRows([]string{"rework_id", "rework_name", "mode", "rx", "updated_at"}))

	page, err := repo.FetchLeaderboardPage(context.Background(), 42, 0, 50)

	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestFetchLeaderboardPageIncludesTotalCountAndRankedUsers(t *testing.T) {
	repo, mock := newTestRepo(t)
	updatedAt := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(`SELECT \* FROM reworks WHERE rework_id = \$1`).
		WithArgs(int32(42)).
		WillReturnRows(sqlmock.NewRows([]string{"rework_id", "rework_name", "mode", "rx", "updated_at"}).
			AddRow(int32(42), "rework", int32(0), int32(0), updatedAt))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rework_stats WHERE rework_id = \$1`).
		WithArgs(int32(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int32(2)))
	mock.ExpectQuery(`SELECT user_id, user_stats\.country`).
		WithArgs(int32(42), int32(0), int32(50)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "country", "user_name", "old_pp", "new_pp", "old_rank", "new_rank"}).
			AddRow(int32(1), "US", "alice", int32(100), int32(200), uint64(2), uint64(1)).
			AddRow(int32(2), "DE", "bob", int32(300), int32(150), uint64(1), uint64(2)))

	page, err := repo.FetchLeaderboardPage(context.Background(), 42, 0, 50)

	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, int32(2), page.TotalCount)
	require.Len(t, page.Users, 2)
	assert.Equal(t, "alice", page.Users[0].Name)
}

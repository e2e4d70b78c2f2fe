package deploy

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osuAkatsuki/performance-service/internal/logging"
	"github.com/osuAkatsuki/performance-service/internal/ppalgo"
)

type fakeBeatmaps struct {
	fail map[int32]error
}

func (f *fakeBeatmaps) Fetch(ctx context.Context, beatmapID int32) ([]byte, error) {
	if err, ok := f.fail[beatmapID]; ok {
		return nil, err
	}
	return []byte{100, 150, 200, 180, 160}, nil
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine := New(db, &fakeBeatmaps{fail: map[int32]error{}}, ppalgo.DefaultRegistry(), redisClient, logging.New("deploy-test"), ModsFilter{}, nil)
	return engine, mock, mr
}

func quoted(s string) string { return regexp.QuoteMeta(s) }

func TestRecalculateStatusesMarksBestAndNonBest(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery(quoted(`SELECT DISTINCT beatmap_md5 FROM scores WHERE userid = $1 AND completed IN (2, 3) AND play_mode = $2`)).
		WithArgs(int32(42), int32(0)).
		WillReturnRows(sqlmock.NewRows([]string{"beatmap_md5"}).AddRow("abc"))

	mock.ExpectQuery(quoted(`SELECT id, pp FROM scores WHERE userid = $1 AND play_mode = $2 AND beatmap_md5 = $3 AND completed IN (2, 3) ORDER BY pp DESC`)).
		WithArgs(int32(42), int32(0), "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "pp"}).AddRow(int64(1), 200.0).AddRow(int64(2), 150.0))

	mock.ExpectExec(quoted(`UPDATE scores SET completed = 3 WHERE id = $1`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(quoted(`UPDATE scores SET completed = 2 WHERE id = $1`)).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.RecalculateStatuses(ctx, 42, 0, 0)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalculateStatusesSkipsBeatmapsWithNoEligibleScores(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery(quoted(`SELECT DISTINCT beatmap_md5 FROM scores_relax WHERE userid = $1 AND completed IN (2, 3) AND play_mode = $2`)).
		WithArgs(int32(7), int32(0)).
		WillReturnRows(sqlmock.NewRows([]string{"beatmap_md5"}).AddRow("def"))

	mock.ExpectQuery(quoted(`SELECT id, pp FROM scores_relax WHERE userid = $1 AND play_mode = $2 AND beatmap_md5 = $3 AND completed IN (2, 3) ORDER BY pp DESC`)).
		WithArgs(int32(7), int32(0), "def").
		WillReturnRows(sqlmock.NewRows([]string{"id", "pp"}))

	err := engine.RecalculateStatuses(ctx, 7, 0, 1)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoresTableSelectsRXVariant(t *testing.T) {
	assert.Equal(t, "scores", scoresTable(0))
	assert.Equal(t, "scores_relax", scoresTable(1))
	assert.Equal(t, "scores_ap", scoresTable(2))
}

func TestRunPhaseALogsAndContinuesOnBeatmapFailure(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery(quoted(`SELECT beatmap_md5 FROM scores WHERE completed IN (2, 3) AND play_mode = $1 GROUP BY beatmap_md5 ORDER BY COUNT(*) DESC`)).
		WithArgs(int32(0)).
		WillReturnRows(sqlmock.NewRows([]string{"beatmap_md5"}).AddRow("abc"))

	mock.ExpectQuery(`SELECT s\.id, s\.mods, s\.max_combo, s\.play_mode, b\.beatmap_id, s\.pp, s\.accuracy, s\.misses_count`).
		WillReturnError(assert.AnError)

	err := engine.RunPhaseA(ctx, 0, 0)

	require.NoError(t, err)
}

func TestRecalculateUserPublishesCachedStatsUnconditionally(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery(quoted(`SELECT DISTINCT beatmap_md5 FROM scores WHERE userid = $1 AND completed IN (2, 3) AND play_mode = $2`)).
		WithArgs(int32(1), int32(0)).
		WillReturnRows(sqlmock.NewRows([]string{"beatmap_md5"}))

	mock.ExpectQuery(`SELECT s\.id, s\.mods, s\.max_combo, s\.play_mode, b\.beatmap_id, s\.pp, s\.accuracy, s\.misses_count`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "mods", "max_combo", "play_mode", "beatmap_id", "pp", "accuracy", "misses_count"}).
			AddRow(int64(1), int32(0), int32(500), int32(0), int32(10), 200.0, 0.98, int32(0)))

	mock.ExpectQuery(`SELECT COUNT\(s\.id\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectExec(quoted(`UPDATE user_stats SET pp = $1 WHERE user_id = $2 AND mode = $3`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(quoted(`SELECT country, privileges FROM users WHERE id = $1`)).
		WithArgs(int32(1)).
		WillReturnRows(sqlmock.NewRows([]string{"country", "privileges"}).AddRow("US", int32(0)))

	mock.ExpectQuery(`SELECT MAX\(t\.time\)`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	err := engine.RecalculateUser(ctx, 1, 0, 0)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunPhaseAAppliesModsFilter(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	ctx := context.Background()
	mods := int32(64) // DT
	neqMods := int32(256) // HT
	engine.modsFilter = ModsFilter{Mods: &mods, NeqMods: &neqMods}

	mock.ExpectQuery(quoted(`SELECT beatmap_md5 FROM scores WHERE completed IN (2, 3) AND play_mode = $1 AND (mods & $2) > 0 AND (mods & $3) = 0 GROUP BY beatmap_md5 ORDER BY COUNT(*) DESC`)).
		WithArgs(int32(0), mods, neqMods).
		WillReturnRows(sqlmock.NewRows([]string{"beatmap_md5"}))

	err := engine.RunPhaseA(ctx, 0, 0)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Package deploy implements the recalculation engine's two batch phases:
// Phase A recomputes every score's pp for a whole (mode, rx) population,
// one beatmap at a time; Phase B recomputes each user's aggregate total
// pp and refreshes the live ripple:* leaderboards. Grounded on
// original_source/src/deploy/mod.rs.
package deploy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/internal/logging"
	"github.com/osuAkatsuki/performance-service/internal/metrics"
	"github.com/osuAkatsuki/performance-service/internal/ppalgo"
)

// Concurrency bounds and batch size, fixed per spec §4.5.
const (
	maxConcurrentBeatmapTasks = 10
	maxConcurrentUserTasks    = 100
	userBatchSize             = 1000
	topEligibleScores         = 100
	maxScoreCount             = 1000
)

// BeatmapSource fetches raw .osu bytes for pp calculation.
type BeatmapSource interface {
	Fetch(ctx context.Context, beatmapID int32) ([]byte, error)
}

// lightweightScore is the minimal score projection Phase A needs,
// mirroring original_source's LightweightScore.
type lightweightScore struct {
	ID          int64   `db:"id"`
	Mods        int32   `db:"mods"`
	MaxCombo    int32   `db:"max_combo"`
	PlayMode    int32   `db:"play_mode"`
	BeatmapID   int32   `db:"beatmap_id"`
	PP          float64 `db:"pp"`
	Accuracy    float64 `db:"accuracy"`
	CountMiss   int32   `db:"misses_count"`
}

// ModsFilter narrows Phase A's beatmap-selection query to scores whose
// mods bitmask matches, mirroring deploy_args.mods_filter/neq_mods_filter
// (original_source/src/deploy/mod.rs's mods_query_str). Mapper- and
// explicit-beatmap-list filters from the original CLI are dropped; they
// select a beatmap subset rather than a mods predicate and add no
// behavior this rework platform's operators need over running deploy
// scoped to one mode/rx at a time.
type ModsFilter struct {
	// Mods, if set, requires (mods & *Mods) > 0.
	Mods *int32
	// NeqMods, if set, requires (mods & *NeqMods) = 0.
	NeqMods *int32
}

func (f ModsFilter) clause(paramOffset int) (sql string, args []any) {
	if f.Mods != nil {
		args = append(args, *f.Mods)
		sql += fmt.Sprintf(" AND (mods & $%d) > 0", paramOffset+len(args))
	}
	if f.NeqMods != nil {
		args = append(args, *f.NeqMods)
		sql += fmt.Sprintf(" AND (mods & $%d) = 0", paramOffset+len(args))
	}
	return sql, args
}

// Engine runs Phase A/B over the live score tables directly (outside the
// rework-scoped tables), matching the original's deploy module acting on
// the production `scores`/`scores_relax`/`scores_ap`/`user_stats` tables.
type Engine struct {
	db         *sqlx.DB
	beatmaps   BeatmapSource
	registry   *ppalgo.Registry
	redis      *redis.Client
	logger     logging.Logger
	modsFilter ModsFilter
	metrics    *metrics.Metrics
}

// New builds an Engine. modsFilter may be the zero value to disable
// mods-based filtering. m may be nil to disable metrics recording.
func New(db *sqlx.DB, beatmaps BeatmapSource, registry *ppalgo.Registry, redisClient *redis.Client, logger logging.Logger, modsFilter ModsFilter, m *metrics.Metrics) *Engine {
	return &Engine{db: db, beatmaps: beatmaps, registry: registry, redis: redisClient, logger: logger, modsFilter: modsFilter, metrics: m}
}

func scoresTable(rx int32) string {
	switch rx {
	case 1:
		return "scores_relax"
	case 2:
		return "scores_ap"
	default:
		return "scores"
	}
}

// RecalculateStatuses repairs the completed-status flag for every
// beatmap a user has played under (mode, rx): the highest-pp score on
// each beatmap becomes the "best" (completed=3), every other becomes a
// non-best duplicate (completed=2). Exposed standalone so it can run
// independent of Phase B, matching recalculate_statuses/recalculate_status.
func (e *Engine) RecalculateStatuses(ctx context.Context, userID, mode, rx int32) error {
	table := scoresTable(rx)

	var beatmapMD5s []string
	q := fmt.Sprintf(`SELECT DISTINCT beatmap_md5 FROM %s WHERE userid = $1 AND completed IN (2, 3) AND play_mode = $2`, table)
	if err := e.db.SelectContext(ctx, &beatmapMD5s, q, userID, mode); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to list played beatmaps", err)
	}

	for _, md5 := range beatmapMD5s {
		if err := e.recalculateStatus(ctx, table, userID, mode, md5); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recalculateStatus(ctx context.Context, table string, userID, mode int32, beatmapMD5 string) error {
	type row struct {
		ID int64   `db:"id"`
		PP float64 `db:"pp"`
	}
	var scores []row
	q := fmt.Sprintf(`SELECT id, pp FROM %s WHERE userid = $1 AND play_mode = $2 AND beatmap_md5 = $3 AND completed IN (2, 3) ORDER BY pp DESC`, table)
	if err := e.db.SelectContext(ctx, &scores, q, userID, mode, beatmapMD5); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to list scores for status repair", err)
	}
	if len(scores) == 0 {
		return nil
	}

	bestQ := fmt.Sprintf(`UPDATE %s SET completed = 3 WHERE id = $1`, table)
	if _, err := e.db.ExecContext(ctx, bestQ, scores[0].ID); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to mark best score", err)
	}

	nonBestQ := fmt.Sprintf(`UPDATE %s SET completed = 2 WHERE id = $1`, table)
	for _, s := range scores[1:] {
		if _, err := e.db.ExecContext(ctx, nonBestQ, s.ID); err != nil {
			return apperrors.Wrap(apperrors.InternalServerError, "failed to mark non-best score", err)
		}
	}
	return nil
}

// RunPhaseA recomputes pp for every score of every beatmap played under
// (mode, rx), fanning out with a weight-10 semaphore. One beatmap's
// permanent failure is logged and does not abort the batch.
func (e *Engine) RunPhaseA(ctx context.Context, mode, rx int32) error {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObservePhase("A", time.Since(start))
		}
	}()
	table := scoresTable(rx)

	modsClause, modsArgs := e.modsFilter.clause(1)
	var beatmapMD5s []string
	q := fmt.Sprintf(`SELECT beatmap_md5 FROM %s WHERE completed IN (2, 3) AND play_mode = $1%s GROUP BY beatmap_md5 ORDER BY COUNT(*) DESC`, table, modsClause)
	args := append([]any{mode}, modsArgs...)
	if err := e.db.SelectContext(ctx, &beatmapMD5s, q, args...); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to list beatmaps for recalculation", err)
	}

	e.logger.InfoContext(ctx, "starting beatmap recalculation", "beatmaps", len(beatmapMD5s), "mode", mode, "rx", rx)

	sem := semaphore.NewWeighted(maxConcurrentBeatmapTasks)
	g, gctx := errgroup.WithContext(ctx)

	for _, md5 := range beatmapMD5s {
		md5 := md5
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					e.logger.ErrorContext(gctx, "recalculating beatmap failed", "beatmap_md5", md5, "error", fmt.Errorf("panic: %v", r))
					if e.metrics != nil {
						e.metrics.RecalculationErrors.WithLabelValues("A").Inc()
					}
				}
			}()
			if err := e.recalculateBeatmap(gctx, table, md5, mode, rx); err != nil {
				e.logger.ErrorContext(gctx, "recalculating beatmap failed", "beatmap_md5", md5, "error", err)
				if e.metrics != nil {
					e.metrics.RecalculationErrors.WithLabelValues("A").Inc()
				}
				return nil
			}
			if e.metrics != nil {
				e.metrics.BeatmapsRecalculated.WithLabelValues(fmt.Sprint(mode), fmt.Sprint(rx)).Inc()
			}
			return nil
		})
	}

	_ = g.Wait()
	e.logger.InfoContext(ctx, "beatmap recalculation finished", "mode", mode, "rx", rx)
	return nil
}

func (e *Engine) recalculateBeatmap(ctx context.Context, table, beatmapMD5 string, mode, rx int32) error {
	modsClause, modsArgs := e.modsFilter.clause(2)
	var scores []lightweightScore
	q := fmt.Sprintf(`
		SELECT s.id, s.mods, s.max_combo, s.play_mode, b.beatmap_id, s.pp, s.accuracy, s.misses_count
		FROM %s s
		INNER JOIN beatmaps b ON b.beatmap_md5 = s.beatmap_md5
		WHERE completed IN (2, 3) AND play_mode = $1 AND s.beatmap_md5 = $2%s
		ORDER BY pp DESC`, table, modsClause)
	args := append([]any{mode, beatmapMD5}, modsArgs...)
	if err := e.db.SelectContext(ctx, &scores, q, args...); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to fetch scores for beatmap", err)
	}
	if len(scores) == 0 {
		return nil
	}

	beatmapBytes, err := e.beatmaps.Fetch(ctx, scores[0].BeatmapID)
	if err != nil {
		return err
	}

	updateQ := fmt.Sprintf(`UPDATE %s SET pp = $1 WHERE id = $2`, table)
	for _, score := range scores {
		algo := e.registry.Resolve(0, mode, score.Mods)
		if rx == 1 && mode == 0 {
			algo = e.registry.Resolve(0, mode, score.Mods|1<<7)
		}
		result, err := algo.Calculate(beatmapBytes, ppalgo.ScoreInputs{
			Mode:      mode,
			Mods:      score.Mods,
			MaxCombo:  score.MaxCombo,
			CountMiss: score.CountMiss,
			Accuracy:  score.Accuracy,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "skipping score, pp calculation failed", "score_id", score.ID, "error", err)
			continue
		}
		if _, err := e.db.ExecContext(ctx, updateQ, ppalgo.Sanitize(result.PP), score.ID); err != nil {
			return apperrors.Wrap(apperrors.InternalServerError, "failed to persist recalculated pp", err)
		}
	}

	e.logger.InfoContext(ctx, "recalculated beatmap", "beatmap_id", scores[0].BeatmapID, "score_count", len(scores), "mode", mode, "rx", rx)
	return nil
}

// RunPhaseB recomputes every user's aggregate pp under (mode, rx) in
// batches of 1000, fanning each batch out with a weight-100 semaphore.
func (e *Engine) RunPhaseB(ctx context.Context, mode, rx int32) error {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObservePhase("B", time.Since(start))
		}
	}()
	var userIDs []int32
	if err := e.db.SelectContext(ctx, &userIDs, `SELECT id FROM users`); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to list users", err)
	}

	processed := 0
	for start := 0; start < len(userIDs); start += userBatchSize {
		end := start + userBatchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		batch := userIDs[start:end]

		sem := semaphore.NewWeighted(maxConcurrentUserTasks)
		g, gctx := errgroup.WithContext(ctx)
		for _, userID := range batch {
			userID := userID
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				defer func() {
					if r := recover(); r != nil {
						e.logger.ErrorContext(gctx, "recalculating user failed", "user_id", userID, "error", fmt.Errorf("panic: %v", r))
						if e.metrics != nil {
							e.metrics.RecalculationErrors.WithLabelValues("B").Inc()
						}
					}
				}()
				if err := e.RecalculateUser(gctx, userID, mode, rx); err != nil {
					e.logger.ErrorContext(gctx, "recalculating user failed", "user_id", userID, "error", err)
					if e.metrics != nil {
						e.metrics.RecalculationErrors.WithLabelValues("B").Inc()
					}
					return nil
				}
				if e.metrics != nil {
					e.metrics.UsersRecalculated.WithLabelValues(fmt.Sprint(mode), fmt.Sprint(rx)).Inc()
				}
				return nil
			})
		}
		_ = g.Wait()

		processed += len(batch)
		e.logger.InfoContext(ctx, "processed users", "users_recalculated", processed, "users_left", len(userIDs)-processed, "mode", mode, "rx", rx)
	}
	return nil
}

// RecalculateUser repairs one user's score statuses, recomputes their
// aggregate pp, updates user_stats, and refreshes the ripple:* live
// leaderboards if the user is unrestricted and active. It unconditionally
// publishes peppy:update_cached_stats, matching recalculate_user.
func (e *Engine) RecalculateUser(ctx context.Context, userID, mode, rx int32) error {
	if err := e.RecalculateStatuses(ctx, userID, mode, rx); err != nil {
		return err
	}

	table := scoresTable(rx)

	var scores []lightweightScore
	q := fmt.Sprintf(`
		SELECT s.id, s.mods, s.max_combo, s.play_mode, b.beatmap_id, s.pp, s.accuracy, s.misses_count
		FROM %s s
		INNER JOIN beatmaps b ON b.beatmap_md5 = s.beatmap_md5
		WHERE userid = $1 AND completed = 3 AND play_mode = $2 AND ranked IN (3, 2)
		ORDER BY pp DESC
		LIMIT %d`, table, topEligibleScores)
	if err := e.db.SelectContext(ctx, &scores, q, userID, mode); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to fetch top scores", err)
	}

	var scoreCount int
	countQ := fmt.Sprintf(`
		SELECT COUNT(s.id) FROM %s s
		INNER JOIN beatmaps b ON b.beatmap_md5 = s.beatmap_md5
		WHERE userid = $1 AND completed = 3 AND play_mode = $2 AND ranked IN (3, 2)`, table)
	if err := e.db.GetContext(ctx, &scoreCount, countQ, userID, mode); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to count eligible scores", err)
	}
	if scoreCount > maxScoreCount {
		scoreCount = maxScoreCount
	}

	pps := make([]float64, 0, len(scores))
	for _, s := range scores {
		pps = append(pps, s.PP)
	}
	newPP := ppalgo.AggregateNewPP(pps, scoreCount)

	if _, err := e.db.ExecContext(ctx, `UPDATE user_stats SET pp = $1 WHERE user_id = $2 AND mode = $3`, newPP, userID, mode+4*rx); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to update user_stats", err)
	}

	var identity struct {
		Country    string `db:"country"`
		Privileges int32  `db:"privileges"`
	}
	if err := e.db.GetContext(ctx, &identity, `SELECT country, privileges FROM users WHERE id = $1`, userID); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to fetch user identity", err)
	}

	var lastScoreTime sql.NullInt64
	lastQ := fmt.Sprintf(`
		SELECT MAX(t.time) FROM (
			SELECT s.time FROM %s s
			INNER JOIN beatmaps b ON b.beatmap_md5 = s.beatmap_md5
			WHERE userid = $1 AND completed = 3 AND ranked IN (2, 3) AND play_mode = $2
			ORDER BY pp DESC LIMIT %d
		) t`, table, topEligibleScores)
	if err := e.db.GetContext(ctx, &lastScoreTime, lastQ, userID, mode); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to fetch last score time", err)
	}

	inactiveDays := 60
	if lastScoreTime.Valid {
		inactiveDays = int(time.Now().Unix()-lastScoreTime.Int64) / 86400
	}

	if identity.Privileges&1 > 0 && inactiveDays < 60 {
		if err := e.refreshLiveLeaderboard(ctx, userID, mode, rx, identity.Country, newPP); err != nil {
			return err
		}
	}

	if err := e.redis.Publish(ctx, "peppy:update_cached_stats", userID).Err(); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to publish cached-stats notification", err)
	}

	return nil
}

func (e *Engine) refreshLiveLeaderboard(ctx context.Context, userID, mode, rx int32, country string, newPP int32) error {
	leaderboardName := map[int32]string{0: "leaderboard", 1: "relaxboard", 2: "autoboard"}[rx]
	statsPrefix := map[int32]string{0: "std", 1: "taiko", 2: "ctb", 3: "mania"}[mode]

	global := fmt.Sprintf("ripple:%s:%s", leaderboardName, statsPrefix)
	if err := e.redis.ZAdd(ctx, global, redis.Z{Score: float64(newPP), Member: fmt.Sprintf("%d", userID)}).Err(); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to update global live leaderboard", err)
	}

	national := fmt.Sprintf("ripple:%s:%s:%s", leaderboardName, statsPrefix, lower(country))
	if err := e.redis.ZAdd(ctx, national, redis.Z{Score: float64(newPP), Member: fmt.Sprintf("%d", userID)}).Err(); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to update national live leaderboard", err)
	}
	return nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Package rework provides read-through access to the reworks catalogue
// and read/write access to the per-user/per-rework scores, stats, and
// queue tables. Grounded on original_source/src/repositories/{reworks,
// leaderboards}.rs, translated from sqlx-over-MySQL to sqlx-over-pgx,
// REPLACE INTO becoming INSERT ... ON CONFLICT DO UPDATE.
package rework

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// Repository wraps the database connection used by every rework-scoped
// read/write operation.
type Repository struct {
	db *sqlx.DB
}

// New builds a Repository over an already-connected pool.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Get fetches one rework by id, returning (nil, nil) if absent.
func (r *Repository) Get(ctx context.Context, reworkID int32) (*models.Rework, error) {
	var rw models.Rework
	err := r.db.GetContext(ctx, &rw, `SELECT * FROM reworks WHERE rework_id = $1`, reworkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch rework", err)
	}
	return &rw, nil
}

// List returns every rework in the catalogue.
func (r *Repository) List(ctx context.Context) ([]models.Rework, error) {
	var reworks []models.Rework
	if err := r.db.SelectContext(ctx, &reworks, `SELECT * FROM reworks`); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to list reworks", err)
	}
	return reworks, nil
}

// UpsertScore replaces the (score_id, rework_id) row.
func (r *Repository) UpsertScore(ctx context.Context, rs models.ReworkScore) error {
	const q = `
		INSERT INTO rework_scores (
			score_id, user_id, rework_id, beatmap_id, beatmapset_id, max_combo, mods,
			accuracy, score, num_300s, num_100s, num_50s, num_gekis, num_katus, num_misses,
			old_pp, new_pp
		) VALUES (
			:score_id, :user_id, :rework_id, :beatmap_id, :beatmapset_id, :max_combo, :mods,
			:accuracy, :score, :num_300s, :num_100s, :num_50s, :num_gekis, :num_katus, :num_misses,
			:old_pp, :new_pp
		)
		ON CONFLICT (score_id, rework_id) DO UPDATE SET
			beatmap_id = EXCLUDED.beatmap_id, beatmapset_id = EXCLUDED.beatmapset_id,
			max_combo = EXCLUDED.max_combo, mods = EXCLUDED.mods, accuracy = EXCLUDED.accuracy,
			score = EXCLUDED.score, num_300s = EXCLUDED.num_300s, num_100s = EXCLUDED.num_100s,
			num_50s = EXCLUDED.num_50s, num_gekis = EXCLUDED.num_gekis, num_katus = EXCLUDED.num_katus,
			num_misses = EXCLUDED.num_misses, old_pp = EXCLUDED.old_pp, new_pp = EXCLUDED.new_pp`
	if _, err := r.db.NamedExecContext(ctx, q, rs); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to upsert rework score", err)
	}
	return nil
}

// UpsertStats replaces the (user_id, rework_id) aggregate row.
func (r *Repository) UpsertStats(ctx context.Context, rs models.ReworkStats) error {
	const q = `
		INSERT INTO rework_stats (user_id, rework_id, old_pp, new_pp)
		VALUES (:user_id, :rework_id, :old_pp, :new_pp)
		ON CONFLICT (user_id, rework_id) DO UPDATE SET
			old_pp = EXCLUDED.old_pp, new_pp = EXCLUDED.new_pp`
	if _, err := r.db.NamedExecContext(ctx, q, rs); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to upsert rework stats", err)
	}
	return nil
}

// DeleteAllForRework removes every rework_scores, rework_stats, and
// rework_queue row for a rework. Used by the mass-recalc destructive
// reset; callers are responsible for the purge-broker-first ordering
// mandated by spec §9.
func (r *Repository) DeleteAllForRework(ctx context.Context, reworkID int32) error {
	for _, table := range []string{"rework_scores", "rework_stats", "rework_queue"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE rework_id = $1`, table)
		if _, err := r.db.ExecContext(ctx, q, reworkID); err != nil {
			return apperrors.Wrap(apperrors.InternalServerError, "failed to delete rework rows", err)
		}
	}
	return nil
}

// DeleteAllForUser removes one user's rework_scores, rework_stats, and
// rework_queue rows for a rework. Used by individual-recalc.
func (r *Repository) DeleteAllForUser(ctx context.Context, reworkID, userID int32) error {
	for _, table := range []string{"rework_scores", "rework_stats", "rework_queue"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE rework_id = $1 AND user_id = $2`, table)
		if _, err := r.db.ExecContext(ctx, q, reworkID, userID); err != nil {
			return apperrors.Wrap(apperrors.InternalServerError, "failed to delete user rework rows", err)
		}
	}
	return nil
}

// MarkProcessed sets processed_at = now() for a queue row.
func (r *Repository) MarkProcessed(ctx context.Context, userID, reworkID int32) error {
	const q = `UPDATE rework_queue SET processed_at = NOW() WHERE user_id = $1 AND rework_id = $2`
	if _, err := r.db.ExecContext(ctx, q, userID, reworkID); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to mark queue row processed", err)
	}
	return nil
}

// QueueState reports the current row for (userID, reworkID), or nil if
// none exists.
func (r *Repository) QueueState(ctx context.Context, userID, reworkID int32) (*models.ReworkQueueEntry, error) {
	var entry models.ReworkQueueEntry
	err := r.db.GetContext(ctx, &entry,
		`SELECT user_id, rework_id, processed_at FROM rework_queue WHERE user_id = $1 AND rework_id = $2`,
		userID, reworkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to read queue state", err)
	}
	return &entry, nil
}

// UpsertQueue inserts or refreshes a (user_id, rework_id) pending row,
// clearing any prior processed_at so it is picked up as PENDING again.
func (r *Repository) UpsertQueue(ctx context.Context, userID, reworkID int32) error {
	const q = `
		INSERT INTO rework_queue (user_id, rework_id, processed_at)
		VALUES ($1, $2, NULL)
		ON CONFLICT (user_id, rework_id) DO UPDATE SET processed_at = NULL`
	if _, err := r.db.ExecContext(ctx, q, userID, reworkID); err != nil {
		return apperrors.Wrap(apperrors.InternalServerError, "failed to upsert queue row", err)
	}
	return nil
}

// FetchLeaderboardPage returns one page of a rework's ranking, ranked by
// new_pp DESC, alongside the total participant count. Reproduces the
// DENSE_RANK() OVER window query from repositories/leaderboards.rs.
func (r *Repository) FetchLeaderboardPage(ctx context.Context, reworkID, offset, limit int32) (*models.Leaderboard, error) {
	rw, err := r.Get(ctx, reworkID)
	if err != nil {
		return nil, err
	}
	if rw == nil {
		return nil, nil
	}

	var count int32
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM rework_stats WHERE rework_id = $1`, reworkID); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to count leaderboard rows", err)
	}

	var users []models.APIReworkStats
	const q = `
		SELECT user_id, user_stats.country, users.username user_name, old_pp, new_pp,
			DENSE_RANK() OVER (ORDER BY old_pp DESC) old_rank,
			DENSE_RANK() OVER (ORDER BY new_pp DESC) new_rank
		FROM rework_stats
		INNER JOIN user_stats ON user_stats.id = rework_stats.user_id
		INNER JOIN users ON users.id = rework_stats.user_id
		WHERE rework_id = $1
		ORDER BY new_pp DESC
		OFFSET $2 LIMIT $3`
	if err := r.db.SelectContext(ctx, &users, q, reworkID, offset, limit); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch leaderboard page", err)
	}

	return &models.Leaderboard{TotalCount: count, Users: users}, nil
}

// GetStats fetches one (user_id, rework_id) rework_stats row, returning
// (nil, nil) if absent.
func (r *Repository) GetStats(ctx context.Context, reworkID, userID int32) (*models.ReworkStats, error) {
	var stats models.ReworkStats
	err := r.db.GetContext(ctx, &stats,
		`SELECT user_id, rework_id, old_pp, new_pp FROM rework_stats WHERE user_id = $1 AND rework_id = $2`,
		userID, reworkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch rework stats", err)
	}
	return &stats, nil
}

// FetchStatsForUser returns every rework_stats row for a user, used by
// the cross-rework user summary endpoint (api/routes/reworks/user.rs::
// get_rework_user).
func (r *Repository) FetchStatsForUser(ctx context.Context, userID int32) ([]models.ReworkStats, error) {
	var stats []models.ReworkStats
	if err := r.db.SelectContext(ctx, &stats, `SELECT user_id, rework_id, old_pp, new_pp FROM rework_stats WHERE user_id = $1`, userID); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch user rework stats", err)
	}
	return stats, nil
}

// FetchUserScores returns a user's scores under a rework, joined with
// their beatmap, ranked old/new by a window function, reproducing
// api/routes/reworks/scores.rs's query.
func (r *Repository) FetchUserScores(ctx context.Context, reworkID, userID int32) ([]models.APIReworkScore, error) {
	var bases []models.APIBaseReworkScore
	const q = `
		SELECT user_id, rework_scores.beatmap_id, rework_scores.beatmapset_id, beatmaps.song_name,
			rework_id, score_id, rework_scores.max_combo, mods, accuracy, score,
			num_300s, num_100s, num_50s, num_gekis, num_katus, num_misses, old_pp, new_pp,
			DENSE_RANK() OVER (ORDER BY old_pp DESC) old_rank,
			DENSE_RANK() OVER (ORDER BY new_pp DESC) new_rank
		FROM rework_scores
		INNER JOIN beatmaps ON rework_scores.beatmap_id = beatmaps.beatmap_id
		WHERE user_id = $1 AND rework_id = $2
		ORDER BY new_pp DESC
		LIMIT 100`
	if err := r.db.SelectContext(ctx, &bases, q, userID, reworkID); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch user scores", err)
	}

	scores := make([]models.APIReworkScore, 0, len(bases))
	for _, base := range bases {
		beatmap := models.Beatmap{
			BeatmapID:    base.BeatmapID,
			BeatmapsetID: base.BeatmapsetID,
			SongName:     base.SongName,
		}
		scores = append(scores, models.FromBase(base, beatmap))
	}
	return scores, nil
}

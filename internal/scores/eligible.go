// Package scores reads the live score tables (scores, scores_relax,
// scores_ap) for the eligible-scores queries shared by the queue
// predicate, the processor, and deploy mode. Grounded on the SQL in
// original_source/src/processor/mod.rs and mass_recalc/mod.rs.
package scores

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// MaxScoreCount is the cap applied to the eligible-scores count used in
// the pp aggregation bonus term (spec §4.4 step 5).
const MaxScoreCount = 1000

// TopEligibleScoreCount is how many of a user's top scores feed the
// weighted aggregate (spec §4.4 step 4).
const TopEligibleScoreCount = 100

// Reader queries one of the three score tables, selected by a rework's
// RX tag.
type Reader struct {
	db *sqlx.DB
}

// New builds a Reader over an already-connected pool. The handle is put
// into sqlx's unsafe mode because TopEligible's `table.*` join select
// surfaces columns (e.g. the scores table's own `ranked`) that
// models.RippleScore doesn't map — unsafe mode ignores them instead of
// erroring, matching how the rest of the row is still fully populated.
func New(db *sqlx.DB) *Reader {
	return &Reader{db: db.Unsafe()}
}

// TopEligible returns a user's top-100 eligible scores for a mode,
// ordered by pp DESC. Eligible means ranked IN (2,3) AND completed = 3.
func (r *Reader) TopEligible(ctx context.Context, table string, userID, mode int32) ([]models.RippleScore, error) {
	var out []models.RippleScore
	q := fmt.Sprintf(`
		SELECT %s.*
		FROM %s
		INNER JOIN beatmaps ON %s.beatmap_md5 = beatmaps.beatmap_md5
		WHERE userid = $1 AND play_mode = $2 AND completed = 3 AND ranked IN (2, 3)
		ORDER BY pp DESC
		LIMIT %d`, table, table, table, TopEligibleScoreCount)
	if err := r.db.SelectContext(ctx, &out, q, userID, mode); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch eligible scores", err)
	}
	return out, nil
}

// EligibleCount returns the count of a user's eligible scores, capped at
// MaxScoreCount, matching the bonus term's score_count input.
func (r *Reader) EligibleCount(ctx context.Context, table string, userID, mode int32) (int, error) {
	var count int
	q := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s
		INNER JOIN beatmaps ON %s.beatmap_md5 = beatmaps.beatmap_md5
		WHERE userid = $1 AND play_mode = $2 AND completed = 3 AND ranked IN (2, 3)`, table, table)
	if err := r.db.GetContext(ctx, &count, q, userID, mode); err != nil {
		return 0, apperrors.Wrap(apperrors.InternalServerError, "failed to count eligible scores", err)
	}
	if count > MaxScoreCount {
		count = MaxScoreCount
	}
	return count, nil
}

// LastScoreTime returns the most recent submission time (unix seconds)
// among a user's top-100 eligible scores, or 0 if the user has none.
func (r *Reader) LastScoreTime(ctx context.Context, table string, userID, mode int32) (int64, error) {
	q := fmt.Sprintf(`
		SELECT COALESCE(MAX(t.time), 0) FROM (
			SELECT time FROM %s
			INNER JOIN beatmaps ON %s.beatmap_md5 = beatmaps.beatmap_md5
			WHERE userid = $1 AND play_mode = $2 AND completed = 3 AND ranked IN (2, 3)
			ORDER BY pp DESC
			LIMIT %d
		) t`, table, table, TopEligibleScoreCount)
	var last int64
	if err := r.db.GetContext(ctx, &last, q, userID, mode); err != nil {
		return 0, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch last score time", err)
	}
	return last, nil
}

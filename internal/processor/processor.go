// Package processor implements the single-threaded rework_queue consumer:
// decode a work item, recompute every top-100 eligible score for the
// user under the rework's PP algorithm, persist the results, and
// refresh the leaderboard.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/internal/logging"
	"github.com/osuAkatsuki/performance-service/internal/metrics"
	"github.com/osuAkatsuki/performance-service/internal/ppalgo"
	"github.com/osuAkatsuki/performance-service/internal/queue"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// ReworkRepository is the subset of rework persistence the processor needs.
type ReworkRepository interface {
	Get(ctx context.Context, reworkID int32) (*models.Rework, error)
	UpsertScore(ctx context.Context, score models.ReworkScore) error
	UpsertStats(ctx context.Context, stats models.ReworkStats) error
	MarkProcessed(ctx context.Context, userID, reworkID int32) error
}

// ScoresReader is the subset of score-table reads the processor needs.
type ScoresReader interface {
	TopEligible(ctx context.Context, table string, userID, mode int32) ([]models.RippleScore, error)
	EligibleCount(ctx context.Context, table string, userID, mode int32) (int, error)
}

// BeatmapSource fetches raw .osu beatmap bytes for PP calculation.
type BeatmapSource interface {
	Fetch(ctx context.Context, beatmapID int32) ([]byte, error)
}

// Leaderboard is the subset of the redis-backed ranking store the
// processor updates after a successful recalculation.
type Leaderboard interface {
	ZAdd(ctx context.Context, reworkID int32, userID int32, pp float64) error
}

// DepthReader reports how many messages are currently sitting in
// rework_queue, for the QueueDepth gauge.
type DepthReader interface {
	Depth() (int, error)
}

// Processor consumes rework_queue deliveries one at a time (the broker's
// prefetch-1 QoS enforces this) and recomputes a user's scores.
type Processor struct {
	reworks  ReworkRepository
	scores   ScoresReader
	beatmaps BeatmapSource
	registry *ppalgo.Registry
	board    Leaderboard
	logger   logging.Logger
	metrics  *metrics.Metrics
	depth    DepthReader
}

// New builds a Processor. m and depth are both nilable: the processor
// runs without a Prometheus registry or queue-depth source in tests and
// in any role that doesn't care to observe it.
func New(reworks ReworkRepository, scores ScoresReader, beatmaps BeatmapSource, registry *ppalgo.Registry, board Leaderboard, logger logging.Logger, m *metrics.Metrics, depth DepthReader) *Processor {
	return &Processor{
		reworks:  reworks,
		scores:   scores,
		beatmaps: beatmaps,
		registry: registry,
		board:    board,
		logger:   logger,
		metrics:  m,
		depth:    depth,
	}
}

// Run ranges over deliveries until the channel closes, handling each to
// completion (ack or nack) before pulling the next — the processor never
// holds more than one unacked delivery.
func (p *Processor) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		p.handle(ctx, d)
	}
}

func (p *Processor) handle(ctx context.Context, d amqp.Delivery) {
	if p.metrics != nil && p.depth != nil {
		if depth, err := p.depth.Depth(); err == nil {
			p.metrics.QueueDepth.Set(float64(depth))
		}
	}

	req, err := queue.Decode(d.Body)
	if err != nil {
		p.logger.WarnContext(ctx, "dropping malformed queue message", "error", err)
		p.consumed("malformed")
		_ = d.Nack(false, false)
		return
	}

	ctx = logging.WithCorrelationID(ctx, fmt.Sprintf("user:%d/rework:%d", req.UserID, req.ReworkID))

	if err := p.ProcessMessage(ctx, req); err != nil {
		if isPermanent(err) {
			p.logger.WarnContext(ctx, "permanent processing failure, draining message", "error", err)
			p.consumed("permanent_failure")
			_ = d.Ack(false)
			return
		}
		p.logger.ErrorContext(ctx, "transient processing failure, requeueing", "error", err)
		p.consumed("transient_failure")
		_ = d.Nack(false, true)
		return
	}

	p.consumed("success")
	_ = d.Ack(false)
}

func (p *Processor) consumed(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.QueueConsumed.WithLabelValues(outcome).Inc()
}

// ProcessMessage recomputes every top-100 eligible score for a user
// under a rework's PP algorithm and refreshes its aggregate stats.
func (p *Processor) ProcessMessage(ctx context.Context, req models.QueueRequest) error {
	rw, err := p.reworks.Get(ctx, req.ReworkID)
	if err != nil {
		return err
	}
	if rw == nil {
		return apperrors.New(apperrors.NotFound, "rework does not exist")
	}

	table := rw.ScoresTable()

	topScores, err := p.scores.TopEligible(ctx, table, req.UserID, rw.Mode)
	if err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to read eligible scores", err)
	}
	scoreCount, err := p.scores.EligibleCount(ctx, table, req.UserID, rw.Mode)
	if err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to count eligible scores", err)
	}

	recalculated := make([]models.ReworkScore, 0, len(topScores))
	for _, score := range topScores {
		beatmapBytes, err := p.beatmaps.Fetch(ctx, score.BeatmapID)
		if err != nil {
			p.logger.WarnContext(ctx, "skipping score, beatmap fetch failed", "score_id", score.ID, "beatmap_id", score.BeatmapID, "error", err)
			continue
		}

		algo := p.registry.Resolve(rw.ReworkID, rw.Mode, score.Mods)
		result, err := algo.Calculate(beatmapBytes, ppalgo.ScoreInputs{
			Mode:      rw.Mode,
			Mods:      score.Mods,
			Accuracy:  score.Accuracy,
			MaxCombo:  score.MaxCombo,
			Count300:  score.Count300,
			Count100:  score.Count100,
			Count50:   score.Count50,
			CountMiss: score.CountMiss,
		})
		if err != nil {
			p.logger.WarnContext(ctx, "skipping score, pp calculation failed", "score_id", score.ID, "error", err)
			continue
		}

		rs := models.FromRippleScore(score, rw.ReworkID)
		rs.NewPP = ppalgo.Sanitize(result.PP)
		recalculated = append(recalculated, rs)
	}

	for _, rs := range recalculated {
		if err := p.reworks.UpsertScore(ctx, rs); err != nil {
			return apperrors.Wrap(apperrors.DependencyFailed, "failed to persist recalculated score", err)
		}
	}

	newPPs := make([]float64, 0, len(recalculated))
	oldPPs := make([]float64, 0, len(recalculated))
	for _, rs := range recalculated {
		newPPs = append(newPPs, rs.NewPP)
		oldPPs = append(oldPPs, rs.OldPP)
	}
	newTotalPP := ppalgo.AggregateNewPP(newPPs, scoreCount)
	oldTotalPP := ppalgo.AggregateNewPP(oldPPs, scoreCount)

	stats := models.ReworkStats{
		UserID:   req.UserID,
		ReworkID: rw.ReworkID,
		OldPP:    oldTotalPP,
		NewPP:    newTotalPP,
	}
	if err := p.reworks.UpsertStats(ctx, stats); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to persist rework stats", err)
	}

	if err := p.board.ZAdd(ctx, rw.ReworkID, req.UserID, float64(newTotalPP)); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to update leaderboard", err)
	}

	if err := p.reworks.MarkProcessed(ctx, req.UserID, rw.ReworkID); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to mark queue row processed", err)
	}

	return nil
}

// isPermanent reports whether err should drain the message (ack) rather
// than redeliver it (nack). Missing reworks and undecodable payloads are
// permanent; dependency failures (DB/redis/HTTP down) are transient.
func isPermanent(err error) bool {
	ae := asAppError(err)
	if ae == nil {
		return false
	}
	switch ae.ErrorCode {
	case apperrors.NotFound, apperrors.BadRequest:
		return true
	default:
		return false
	}
}

func asAppError(err error) *apperrors.Error {
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

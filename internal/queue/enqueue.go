package queue

import (
	"context"
	"time"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// maxInactiveDays is the inactivity cutoff past which a user is no
// longer eligible for enqueue (spec §4.4 step 3).
const maxInactiveDays = 60

// ReworkRepository is the subset of the rework repository the enqueue
// predicate needs, kept narrow so tests can supply a fake.
type ReworkRepository interface {
	QueueState(ctx context.Context, userID, reworkID int32) (*models.ReworkQueueEntry, error)
	UpsertQueue(ctx context.Context, userID, reworkID int32) error
}

// Publisher is the subset of Broker the enqueue predicate needs.
type Publisher interface {
	Publish(req models.QueueRequest) error
}

// ScoresReader is the subset of the scores.Reader the enqueue predicate
// needs, kept narrow so tests can supply a fake.
type ScoresReader interface {
	LastScoreTime(ctx context.Context, table string, userID, mode int32) (int64, error)
}

// Enqueuer runs the shared queue_user predicate for every producer path
// (mass-recalc, individual-recalc, session-triggered enqueue).
type Enqueuer struct {
	repo      ReworkRepository
	scoresDB  ScoresReader
	publisher Publisher
	now       func() time.Time
}

// NewEnqueuer builds an Enqueuer. now defaults to time.Now when nil,
// overridable in tests.
func NewEnqueuer(repo ReworkRepository, scoresDB ScoresReader, publisher Publisher, now func() time.Time) *Enqueuer {
	if now == nil {
		now = time.Now
	}
	return &Enqueuer{repo: repo, scoresDB: scoresDB, publisher: publisher, now: now}
}

// Outcome reports what QueueUser decided, for callers that want to
// surface a reason (e.g. the session-triggered HTTP usecase).
type Outcome int

const (
	Enqueued Outcome = iota
	SkippedInactive
	SkippedAlreadyQueued
)

// QueueUser applies the shared dedup predicate and, if eligible,
// upserts a pending rework_queue row and publishes the work item.
// Matches original_source/src/mass_recalc/mod.rs::queue_user, fixed per
// spec §9 to treat a NULL processed_at as in-flight (do not re-enqueue).
func (e *Enqueuer) QueueUser(ctx context.Context, userID int32, rw models.Rework) (Outcome, error) {
	table := rw.ScoresTable()

	lastScoreTime, err := e.scoresDB.LastScoreTime(ctx, table, userID, rw.Mode)
	if err != nil {
		return 0, err
	}

	inactiveDays := maxInactiveDays
	if lastScoreTime > 0 {
		inactiveDays = int(e.now().Unix()-lastScoreTime) / 86400
	}
	if inactiveDays >= maxInactiveDays {
		return SkippedInactive, nil
	}

	entry, err := e.repo.QueueState(ctx, userID, rw.ReworkID)
	if err != nil {
		return 0, err
	}
	if entry != nil && isPending(*entry, rw.UpdatedAt) {
		return SkippedAlreadyQueued, nil
	}

	if err := e.repo.UpsertQueue(ctx, userID, rw.ReworkID); err != nil {
		return 0, err
	}
	if err := e.publisher.Publish(models.QueueRequest{UserID: userID, ReworkID: rw.ReworkID}); err != nil {
		return 0, apperrors.Wrap(apperrors.InternalServerError, "failed to publish queue message", err)
	}

	return Enqueued, nil
}

// isPending reports whether a queue row is still in the PENDING state
// (spec §4.4's state machine): processed_at IS NULL or before the
// rework's updated_at watermark.
func isPending(entry models.ReworkQueueEntry, updatedAt time.Time) bool {
	if entry.ProcessedAt == nil {
		return true
	}
	return entry.ProcessedAt.Before(updatedAt)
}

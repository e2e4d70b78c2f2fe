package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/internal/logging"
	"github.com/osuAkatsuki/performance-service/internal/ppalgo"
	"github.com/osuAkatsuki/performance-service/internal/queue"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

type fakeReworks struct {
	rework        *models.Rework
	upsertedScores []models.ReworkScore
	upsertedStats  []models.ReworkStats
	markedProcessed bool
}

func (f *fakeReworks) Get(ctx context.Context, reworkID int32) (*models.Rework, error) {
	return f.rework, nil
}

func (f *fakeReworks) UpsertScore(ctx context.Context, score models.ReworkScore) error {
	f.upsertedScores = append(f.upsertedScores, score)
	return nil
}

func (f *fakeReworks) UpsertStats(ctx context.Context, stats models.ReworkStats) error {
	f.upsertedStats = append(f.upsertedStats, stats)
	return nil
}

func (f *fakeReworks) MarkProcessed(ctx context.Context, userID, reworkID int32) error {
	f.markedProcessed = true
	return nil
}

type fakeScores struct {
	scores []models.RippleScore
	count  int
}

func (f *fakeScores) TopEligible(ctx context.Context, table string, userID, mode int32) ([]models.RippleScore, error) {
	return f.scores, nil
}

func (f *fakeScores) EligibleCount(ctx context.Context, table string, userID, mode int32) (int, error) {
	return f.count, nil
}

type fakeBeatmaps struct {
	fail map[int32]error
}

func (f *fakeBeatmaps) Fetch(ctx context.Context, beatmapID int32) ([]byte, error) {
	if err, ok := f.fail[beatmapID]; ok {
		return nil, err
	}
	return []byte{100, 150, 200, 180, 160}, nil
}

type fakeLeaderboard struct {
	calls int
	fail  bool
}

func (f *fakeLeaderboard) ZAdd(ctx context.Context, reworkID, userID int32, pp float64) error {
	f.calls++
	if f.fail {
		return errors.New("redis unreachable")
	}
	return nil
}

func newTestProcessor(reworks *fakeReworks, scores *fakeScores, beatmaps *fakeBeatmaps, board *fakeLeaderboard) *Processor {
	return New(reworks, scores, beatmaps, ppalgo.DefaultRegistry(), board, logging.New("processor-test"), nil, nil)
}

func TestProcessMessageUpsertsScoresStatsAndMarksProcessed(t *testing.T) {
	reworks := &fakeReworks{rework: &models.Rework{ReworkID: 9, Mode: 0, RX: 0, UpdatedAt: time.Now()}}
	scores := &fakeScores{
		scores: []models.RippleScore{
			{ID: 1, UserID: 42, BeatmapID: 10, Accuracy: 0.98, MaxCombo: 500, Count300: 490, PP: 200},
			{ID: 2, UserID: 42, BeatmapID: 11, Accuracy: 0.95, MaxCombo: 300, Count300: 290, PP: 150},
		},
		count: 2,
	}
	beatmaps := &fakeBeatmaps{fail: map[int32]error{}}
	board := &fakeLeaderboard{}

	p := newTestProcessor(reworks, scores, beatmaps, board)
	err := p.ProcessMessage(context.Background(), models.QueueRequest{UserID: 42, ReworkID: 9})

	require.NoError(t, err)
	assert.Len(t, reworks.upsertedScores, 2)
	require.Len(t, reworks.upsertedStats, 1)
	assert.True(t, reworks.markedProcessed)
	assert.Equal(t, 1, board.calls)
}

func TestProcessMessageReturnsNotFoundForMissingRework(t *testing.T) {
	reworks := &fakeReworks{rework: nil}
	scores := &fakeScores{}
	beatmaps := &fakeBeatmaps{}
	board := &fakeLeaderboard{}

	p := newTestProcessor(reworks, scores, beatmaps, board)
	err := p.ProcessMessage(context.Background(), models.QueueRequest{UserID: 1, ReworkID: 999})

	require.Error(t, err)
	assert.True(t, isPermanent(err))
}

func TestProcessMessageSkipsScoreWithFailedBeatmapFetch(t *testing.T) {
	reworks := &fakeReworks{rework: &models.Rework{ReworkID: 9, Mode: 0, UpdatedAt: time.Now()}}
	scores := &fakeScores{
		scores: []models.RippleScore{
			{ID: 1, UserID: 42, BeatmapID: 10, Accuracy: 0.98, MaxCombo: 500, Count300: 490},
			{ID: 2, UserID: 42, BeatmapID: 11, Accuracy: 0.95, MaxCombo: 300, Count300: 290},
		},
		count: 2,
	}
	beatmaps := &fakeBeatmaps{fail: map[int32]error{11: apperrors.New(apperrors.NotFound, "gone")}}
	board := &fakeLeaderboard{}

	p := newTestProcessor(reworks, scores, beatmaps, board)
	err := p.ProcessMessage(context.Background(), models.QueueRequest{UserID: 42, ReworkID: 9})

	require.NoError(t, err)
	assert.Len(t, reworks.upsertedScores, 1)
}

func TestProcessMessagePropagatesDependencyFailureFromLeaderboard(t *testing.T) {
	reworks := &fakeReworks{rework: &models.Rework{ReworkID: 9, Mode: 0, UpdatedAt: time.Now()}}
	scores := &fakeScores{scores: []models.RippleScore{{ID: 1, UserID: 42, BeatmapID: 10, Accuracy: 0.9, MaxCombo: 100}}, count: 1}
	beatmaps := &fakeBeatmaps{}
	board := &fakeLeaderboard{fail: true}

	p := newTestProcessor(reworks, scores, beatmaps, board)
	err := p.ProcessMessage(context.Background(), models.QueueRequest{UserID: 42, ReworkID: 9})

	require.Error(t, err)
	assert.False(t, isPermanent(err))
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	reworks := &fakeReworks{}
	scores := &fakeScores{}
	beatmaps := &fakeBeatmaps{}
	board := &fakeLeaderboard{}
	p := newTestProcessor(reworks, scores, beatmaps, board)

	acker := &recordingAcknowledger{}
	d := amqp.Delivery{Body: []byte{1, 2, 3}, Acknowledger: acker}
	p.handle(context.Background(), d)

	assert.True(t, acker.nacked)
	assert.False(t, acker.requeue)
}

func TestHandleAcksOnPermanentFailure(t *testing.T) {
	reworks := &fakeReworks{rework: nil}
	scores := &fakeScores{}
	beatmaps := &fakeBeatmaps{}
	board := &fakeLeaderboard{}
	p := newTestProcessor(reworks, scores, beatmaps, board)

	acker := &recordingAcknowledger{}
	d := amqp.Delivery{Body: queue.Encode(models.QueueRequest{UserID: 1, ReworkID: 9}), Acknowledger: acker}
	p.handle(context.Background(), d)

	assert.True(t, acker.acked)
}

func TestHandleRequeuesOnTransientFailure(t *testing.T) {
	reworks := &fakeReworks{rework: &models.Rework{ReworkID: 9, Mode: 0, UpdatedAt: time.Now()}}
	scores := &fakeScores{scores: []models.RippleScore{{ID: 1, UserID: 1, BeatmapID: 10}}, count: 1}
	beatmaps := &fakeBeatmaps{}
	board := &fakeLeaderboard{fail: true}
	p := newTestProcessor(reworks, scores, beatmaps, board)

	acker := &recordingAcknowledger{}
	d := amqp.Delivery{Body: queue.Encode(models.QueueRequest{UserID: 1, ReworkID: 9}), Acknowledger: acker}
	p.handle(context.Background(), d)

	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
}

// recordingAcknowledger is a minimal amqp.Acknowledger fake for exercising
// handle's ack/nack decisions without a real broker connection.
type recordingAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (r *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	r.acked = true
	return nil
}

func (r *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	r.nacked = true
	r.requeue = requeue
	return nil
}

func (r *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return nil
}

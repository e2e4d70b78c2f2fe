package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/osuAkatsuki/performance-service/internal/queue"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, nil), mr
}

func TestStoreCreateReusesExistingToken(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, 1)
	require.NoError(t, err)

	second, err := store.Create(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStoreDeleteRemovesBothKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, token))

	_, ok, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDeleteMissingTokenIsNotAnError(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Delete(context.Background(), "does-not-exist"))
}

type fakeUsers struct {
	byUsername map[string]*models.User
	byID       map[int32]*models.User
}

func (f *fakeUsers) GetByUsernameSafe(ctx context.Context, usernameSafe string) (*models.User, error) {
	return f.byUsername[usernameSafe], nil
}

func (f *fakeUsers) GetByID(ctx context.Context, userID int32) (*models.User, error) {
	return f.byID[userID], nil
}

type fakeReworks struct {
	rework *models.Rework
}

func (f *fakeReworks) Get(ctx context.Context, reworkID int32) (*models.Rework, error) {
	return f.rework, nil
}

type fakeQueueRepo struct {
	entries map[int32]*models.ReworkQueueEntry
}

func (f *fakeQueueRepo) QueueState(ctx context.Context, userID, reworkID int32) (*models.ReworkQueueEntry, error) {
	return f.entries[userID], nil
}

func (f *fakeQueueRepo) UpsertQueue(ctx context.Context, userID, reworkID int32) error {
	f.entries[userID] = &models.ReworkQueueEntry{UserID: userID, ReworkID: reworkID}
	return nil
}

type fakeScores struct{ lastScoreTime int64 }

func (f *fakeScores) LastScoreTime(ctx context.Context, table string, userID, mode int32) (int64, error) {
	return f.lastScoreTime, nil
}

type fakePublisher struct{ published []models.QueueRequest }

func (f *fakePublisher) Publish(req models.QueueRequest) error {
	f.published = append(f.published, req)
	return nil
}

func hashed(t *testing.T, plain string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	store, _ := newTestStore(t)
	users := &fakeUsers{byUsername: map[string]*models.User{
		"tester": {ID: 1, Privileges: 1, PasswordBcrypt: hashed(t, "correct-md5")},
	}}
	reworks := &fakeReworks{}
	enqueuer := queue.NewEnqueuer(&fakeQueueRepo{entries: map[int32]*models.ReworkQueueEntry{}}, &fakeScores{}, &fakePublisher{}, func() time.Time { return time.Now() })

	svc := NewService(store, users, reworks, enqueuer)
	result, err := svc.Authenticate(context.Background(), "Tester", "wrong-md5")

	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestAuthenticateSucceedsAndIssuesToken(t *testing.T) {
	store, _ := newTestStore(t)
	users := &fakeUsers{byUsername: map[string]*models.User{
		"tester": {ID: 1, Privileges: 1, PasswordBcrypt: hashed(t, "correct-md5")},
	}}
	reworks := &fakeReworks{}
	enqueuer := queue.NewEnqueuer(&fakeQueueRepo{entries: map[int32]*models.ReworkQueueEntry{}}, &fakeScores{}, &fakePublisher{}, func() time.Time { return time.Now() })

	svc := NewService(store, users, reworks, enqueuer)
	result, err := svc.Authenticate(context.Background(), "Tester", "correct-md5")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.SessionToken)
}

func TestEnqueueRejectsRestrictedUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	token, err := store.Create(ctx, 1)
	require.NoError(t, err)

	users := &fakeUsers{byID: map[int32]*models.User{1: {ID: 1, Privileges: 0}}}
	reworks := &fakeReworks{rework: &models.Rework{ReworkID: 9}}
	enqueuer := queue.NewEnqueuer(&fakeQueueRepo{entries: map[int32]*models.ReworkQueueEntry{}}, &fakeScores{lastScoreTime: time.Now().Unix()}, &fakePublisher{}, func() time.Time { return time.Now() })

	svc := NewService(store, users, reworks, enqueuer)
	resp, err := svc.Enqueue(ctx, token, 9)

	require.NoError(t, err)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "User is restricted", *resp.Message)
}

func TestEnqueueSucceedsForActiveUnrestrictedUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	token, err := store.Create(ctx, 1)
	require.NoError(t, err)

	users := &fakeUsers{byID: map[int32]*models.User{1: {ID: 1, Privileges: 1}}}
	reworks := &fakeReworks{rework: &models.Rework{ReworkID: 9, UpdatedAt: time.Now()}}
	pub := &fakePublisher{}
	enqueuer := queue.NewEnqueuer(&fakeQueueRepo{entries: map[int32]*models.ReworkQueueEntry{}}, &fakeScores{lastScoreTime: time.Now().Unix()}, pub, func() time.Time { return time.Now() })

	svc := NewService(store, users, reworks, enqueuer)
	resp, err := svc.Enqueue(ctx, token, 9)

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, pub.published, 1)
}

func TestEnqueueRejectsInvalidToken(t *testing.T) {
	store, _ := newTestStore(t)
	users := &fakeUsers{}
	reworks := &fakeReworks{}
	enqueuer := queue.NewEnqueuer(&fakeQueueRepo{entries: map[int32]*models.ReworkQueueEntry{}}, &fakeScores{}, &fakePublisher{}, func() time.Time { return time.Now() })

	svc := NewService(store, users, reworks, enqueuer)
	resp, err := svc.Enqueue(context.Background(), "bogus-token", 9)

	require.NoError(t, err)
	assert.False(t, resp.Success)
}

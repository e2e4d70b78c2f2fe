// Package session implements redis-backed session tokens: username/password
// authentication, token reuse-until-expiry, and the session-triggered
// rework_queue enqueue usecase. Grounded on
// original_source/src/repositories/sessions.rs and usecases/sessions.rs.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/internal/metrics"
	"github.com/osuAkatsuki/performance-service/internal/queue"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// TTL is the lifetime of a session token; re-authenticating before
// expiry reuses the existing token rather than rotating it, matching
// repositories/sessions.rs::create.
const TTL = 2 * time.Hour

func tokenKey(userID int32) string  { return fmt.Sprintf("rework:sessions:ids:%d", userID) }
func userKey(token string) string   { return fmt.Sprintf("rework:sessions:%s", token) }

// UserRepository is the subset of user persistence the session layer
// needs, kept narrow so tests can supply a fake.
type UserRepository interface {
	GetByUsernameSafe(ctx context.Context, usernameSafe string) (*models.User, error)
	GetByID(ctx context.Context, userID int32) (*models.User, error)
}

// ReworkRepository is the subset of rework persistence the enqueue
// usecase needs.
type ReworkRepository interface {
	Get(ctx context.Context, reworkID int32) (*models.Rework, error)
}

// Store wraps the redis session-token keyspace.
type Store struct {
	redis   *redis.Client
	metrics *metrics.Metrics
}

// NewStore builds a Store over an already-connected redis client. m is
// nilable.
func NewStore(client *redis.Client, m *metrics.Metrics) *Store {
	return &Store{redis: client, metrics: m}
}

// Create mints (or reuses) a session token for userID.
func (s *Store) Create(ctx context.Context, userID int32) (string, error) {
	existing, err := s.redis.Get(ctx, tokenKey(userID)).Result()
	if err == nil {
		return existing, nil
	}
	if err != redis.Nil {
		return "", apperrors.Wrap(apperrors.DependencyFailed, "failed to read session token", err)
	}

	token := uuid.NewString()
	if err := s.redis.SetEx(ctx, tokenKey(userID), token, TTL).Err(); err != nil {
		return "", apperrors.Wrap(apperrors.DependencyFailed, "failed to store session token", err)
	}
	if err := s.redis.SetEx(ctx, userKey(token), userID, TTL).Err(); err != nil {
		return "", apperrors.Wrap(apperrors.DependencyFailed, "failed to store session owner", err)
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	return token, nil
}

// Delete invalidates a session token. A missing token is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	userID, err := s.redis.Get(ctx, userKey(token)).Int()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to read session owner", err)
	}

	if err := s.redis.Del(ctx, userKey(token)).Err(); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to delete session token", err)
	}
	if err := s.redis.Del(ctx, tokenKey(int32(userID))).Err(); err != nil {
		return apperrors.Wrap(apperrors.DependencyFailed, "failed to delete session owner index", err)
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
	return nil
}

// Lookup resolves a session token to its owning user id.
func (s *Store) Lookup(ctx context.Context, token string) (int32, bool, error) {
	userID, err := s.redis.Get(ctx, userKey(token)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.DependencyFailed, "failed to read session owner", err)
	}
	return int32(userID), true, nil
}

// CreateSessionResult mirrors usecases::sessions::CreateSessionResponse.
type CreateSessionResult struct {
	Success      bool
	UserID       int32
	SessionToken string
}

// Service implements the session usecases: authenticate, delete, and
// enqueue-via-session.
type Service struct {
	store    *Store
	users    UserRepository
	reworks  ReworkRepository
	enqueuer *queue.Enqueuer
}

// NewService builds a Service.
func NewService(store *Store, users UserRepository, reworks ReworkRepository, enqueuer *queue.Enqueuer) *Service {
	return &Service{store: store, users: users, reworks: reworks, enqueuer: enqueuer}
}

// Authenticate verifies username/password_md5 against the users table and
// mints a session token on success.
func (s *Service) Authenticate(ctx context.Context, username, passwordMD5 string) (CreateSessionResult, error) {
	usernameSafe := normalizeUsername(username)
	user, err := s.users.GetByUsernameSafe(ctx, usernameSafe)
	if err != nil {
		return CreateSessionResult{}, err
	}
	if user == nil {
		return CreateSessionResult{Success: false}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordBcrypt), []byte(passwordMD5)); err != nil {
		return CreateSessionResult{Success: false}, nil
	}

	token, err := s.store.Create(ctx, user.ID)
	if err != nil {
		return CreateSessionResult{}, err
	}

	return CreateSessionResult{Success: true, UserID: user.ID, SessionToken: token}, nil
}

// Delete invalidates a session token.
func (s *Service) Delete(ctx context.Context, token string) error {
	return s.store.Delete(ctx, token)
}

// Enqueue authenticates a session token, validates the user and rework,
// and runs the shared queue_user predicate.
func (s *Service) Enqueue(ctx context.Context, token string, reworkID int32) (models.QueueResponse, error) {
	userID, ok, err := s.store.Lookup(ctx, token)
	if err != nil {
		return models.QueueResponse{}, err
	}
	if !ok {
		return failureResponse("Invalid session token"), nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.QueueResponse{}, err
	}
	if user == nil {
		return failureResponse("User does not exist"), nil
	}
	if user.Restricted() {
		return failureResponse("User is restricted"), nil
	}

	rw, err := s.reworks.Get(ctx, reworkID)
	if err != nil {
		return models.QueueResponse{}, err
	}
	if rw == nil {
		return failureResponse("rework does not exist"), nil
	}

	outcome, err := s.enqueuer.QueueUser(ctx, userID, *rw)
	if err != nil {
		return models.QueueResponse{}, err
	}
	switch outcome {
	case queue.SkippedAlreadyQueued:
		return failureResponse("Already in queue"), nil
	case queue.SkippedInactive:
		return failureResponse("user is inactive"), nil
	default:
		return models.QueueResponse{Success: true}, nil
	}
}

func failureResponse(msg string) models.QueueResponse {
	return models.QueueResponse{Success: false, Message: &msg}
}

func normalizeUsername(username string) string {
	out := make([]rune, 0, len(username))
	for _, r := range username {
		if r == ' ' {
			r = '_'
		}
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

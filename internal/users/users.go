// Package users provides read access to the users table shared by the
// session layer (authentication, restriction checks) and the HTTP API
// (search, user summaries). Grounded on the queries scattered across
// original_source/src/usecases/sessions.rs, api/routes/reworks/{user,
// search}.rs.
package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// Repository wraps read-only access to the users table.
type Repository struct {
	db *sqlx.DB
}

// New builds a Repository over an already-connected pool.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// GetByUsernameSafe fetches a user by its normalized username, returning
// (nil, nil) if none exists.
func (r *Repository) GetByUsernameSafe(ctx context.Context, usernameSafe string) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT id, username, username_safe, password_md5, country, privileges FROM users WHERE username_safe = $1`, usernameSafe)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch user by username", err)
	}
	return &u, nil
}

// GetByID fetches a user by id, returning (nil, nil) if none exists.
func (r *Repository) GetByID(ctx context.Context, userID int32) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT id, username, username_safe, password_md5, country, privileges FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to fetch user by id", err)
	}
	return &u, nil
}

// SearchByUsernamePrefix returns every user whose normalized username
// contains the query substring, mirroring the original's `LIKE` scan
// (api/routes/reworks/search.rs). Callers apply the rework-membership
// intersection and similarity ranking afterward.
func (r *Repository) SearchByUsernamePrefix(ctx context.Context, query string) ([]models.SearchUser, error) {
	var out []models.SearchUser
	pattern := "%" + normalizeSearchQuery(query) + "%"
	const q = `SELECT id user_id, username user_name FROM users WHERE username_safe LIKE $1 LIMIT 50`
	if err := r.db.SelectContext(ctx, &out, q, pattern); err != nil {
		return nil, apperrors.Wrap(apperrors.InternalServerError, "failed to search users", err)
	}
	return out, nil
}

// normalizeSearchQuery lower-cases, maps spaces to underscores, and strips
// non-ASCII runes, matching search.rs's
// `.replace(|c: char| !c.is_ascii(), "")` pass over the raw query.
func normalizeSearchQuery(query string) string {
	lowered := strings.ToLower(strings.ReplaceAll(query, " ", "_"))
	out := make([]rune, 0, len(lowered))
	for _, r := range lowered {
		if r > unicode.MaxASCII {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

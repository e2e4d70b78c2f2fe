package httpapi

import (
	"net/http"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// handleReworkUser returns a user's cross-rework participation summary,
// recovered from api/routes/reworks/user.rs::get_rework_user.
func (s *Server) handleReworkUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseInt32Param(r, "user_id")
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	stats, err := s.reworks.FetchStatsForUser(r.Context(), userID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	reworks := make([]models.Rework, 0, len(stats))
	for _, st := range stats {
		rw, err := s.reworks.Get(r.Context(), st.ReworkID)
		if err != nil {
			apperrors.WriteJSON(w, err)
			return
		}
		if rw != nil {
			reworks = append(reworks, *rw)
		}
	}

	writeJSON(w, http.StatusOK, models.ReworkUser{
		UserID:  user.ID,
		Name:    user.Username,
		Country: user.Country,
		Reworks: reworks,
	})
}

// handleUserStats returns a user's rework stats enriched with both a
// live-leaderboard rank and a rework-leaderboard rank, recovered from
// api/routes/reworks/user.rs::get_rework_stats.
func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	reworkID, err := parseInt32Param(r, "rework_id")
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	userID, err := parseInt32Param(r, "user_id")
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	rw, err := s.reworks.Get(r.Context(), reworkID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if rw == nil {
		apperrors.WriteJSON(w, apperrors.New(apperrors.NotFound, "rework does not exist"))
		return
	}

	stats, err := s.reworks.GetStats(r.Context(), reworkID, userID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if stats == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if user == nil {
		apperrors.WriteJSON(w, apperrors.New(apperrors.NotFound, "user does not exist"))
		return
	}

	oldRank, _, err := s.leaderboard.LiveRank(r.Context(), rw.Mode, rw.RX, userID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	newRank, _, err := s.leaderboard.Rank(r.Context(), reworkID, userID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.FromStats(*stats, user.Country, user.Username, oldRank, newRank))
}

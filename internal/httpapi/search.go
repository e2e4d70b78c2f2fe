package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/pkg/models"
)

// handleSearchUsers implements the rework-membership-intersected,
// Jaro-Winkler-ranked username search recovered from
// api/routes/reworks/search.rs::search_users.
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	reworkID, err := parseInt32Param(r, "rework_id")
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	query := r.URL.Query().Get("query")
	if query == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.BadRequest, "missing query parameter"))
		return
	}

	candidates, err := s.users.SearchByUsernamePrefix(r.Context(), query)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	members := make([]models.SearchUser, 0, len(candidates))
	for _, c := range candidates {
		stats, err := s.reworks.GetStats(r.Context(), reworkID, c.UserID)
		if err != nil {
			apperrors.WriteJSON(w, err)
			return
		}
		if stats != nil {
			members = append(members, c)
		}
	}

	sort.SliceStable(members, func(i, j int) bool {
		return smetrics.JaroWinkler(strings.ToLower(members[i].Name), strings.ToLower(query), 0.7, 4) >
			smetrics.JaroWinkler(strings.ToLower(members[j].Name), strings.ToLower(query), 0.7, 4)
	})

	writeJSON(w, http.StatusOK, members)
}

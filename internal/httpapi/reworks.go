package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
)

func parseInt32Param(r *http.Request, name string) (int32, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, apperrors.New(apperrors.BadRequest, "invalid "+name)
	}
	return int32(v), nil
}

func (s *Server) handleListReworks(w http.ResponseWriter, r *http.Request) {
	reworks, err := s.reworks.List(r.Context())
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reworks)
}

func (s *Server) handleGetRework(w http.ResponseWriter, r *http.Request) {
	reworkID, err := parseInt32Param(r, "rework_id")
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	rw, err := s.reworks.Get(r.Context(), reworkID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rw)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	reworkID, err := parseInt32Param(r, "rework_id")
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}

	page := parseQueryInt(r, "page", 0)
	amount := parseQueryInt(r, "amount", 50)
	offset := page * amount

	board, err := s.reworks.FetchLeaderboardPage(r.Context(), reworkID, int32(offset), int32(amount))
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if board == nil {
		apperrors.WriteJSON(w, apperrors.New(apperrors.NotFound, "rework does not exist"))
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleUserScores(w http.ResponseWriter, r *http.Request) {
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

	scores, err := s.reworks.FetchUserScores(r.Context(), reworkID, userID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	reworkID, err := parseInt32Param(r, "rework_id")
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	token := r.URL.Query().Get("session")
	if token == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.BadRequest, "missing session query parameter"))
		return
	}

	resp, err := s.sessions.Enqueue(r.Context(), token, reworkID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseQueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
)

type createSessionRequest struct {
	Username    string `json:"username"`
	PasswordMD5 string `json:"password_md5"`
}

// createSessionResponse mirrors original_source's usecases::sessions::
// CreateSessionResponse.
type createSessionResponse struct {
	Success      bool    `json:"success"`
	UserID       *int32  `json:"user_id"`
	SessionToken *string `json:"session_token"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteJSON(w, apperrors.New(apperrors.BadRequest, "malformed request body"))
		return
	}
	if req.Username == "" || req.PasswordMD5 == "" {
		apperrors.WriteJSON(w, apperrors.New(apperrors.BadRequest, "username and password_md5 are required"))
		return
	}

	result, err := s.sessions.Authenticate(r.Context(), req.Username, req.PasswordMD5)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusOK, createSessionResponse{Success: false})
		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{
		Success:      true,
		UserID:       &result.UserID,
		SessionToken: &result.SessionToken,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := s.sessions.Delete(r.Context(), token); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

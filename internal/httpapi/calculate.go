package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/osuAkatsuki/performance-service/internal/apperrors"
	"github.com/osuAkatsuki/performance-service/internal/ppalgo"
)

// calculateRequest mirrors original_source's api/routes/calculate.rs::
// CalculateRequest, extended with beatmap_md5 (spec.md §6's Supplemented
// Feature description) and the hit-count triple as an alternative to a
// pre-computed accuracy.
type calculateRequest struct {
	BeatmapID  int32    `json:"beatmap_id"`
	BeatmapMD5 string   `json:"beatmap_md5"`
	Mode       int32    `json:"mode"`
	Mods       int32    `json:"mods"`
	MaxCombo   int32    `json:"max_combo"`
	Accuracy   *float64 `json:"accuracy"`
	Count300   *int32   `json:"count_300"`
	Count100   *int32   `json:"count_100"`
	Count50    *int32   `json:"count_50"`
	MissCount  int32    `json:"miss_count"`
}

type calculateResponse struct {
	Stars    float64 `json:"stars"`
	PP       float64 `json:"pp"`
	AR       float64 `json:"ar"`
	OD       float64 `json:"od"`
	MaxCombo int32   `json:"max_combo"`
}

// handleCalculate is the stateless synchronous pp/star-rating previewer
// recovered from api/routes/calculate.rs, dispatching through the same
// internal/ppalgo registry as the processor and deploy paths.
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var reqs []calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		apperrors.WriteJSON(w, apperrors.New(apperrors.BadRequest, "malformed request body"))
		return
	}

	responses := make([]calculateResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := s.calculateOne(r.Context(), req)
		if err != nil {
			apperrors.WriteJSON(w, err)
			return
		}
		responses = append(responses, resp)
	}

	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) calculateOne(ctx context.Context, req calculateRequest) (calculateResponse, error) {
	hasAccuracy := req.Accuracy != nil
	hasCounts := req.Count300 != nil || req.Count100 != nil || req.Count50 != nil
	if hasAccuracy == hasCounts {
		return calculateResponse{}, apperrors.New(apperrors.BadRequest, "supply exactly one of accuracy or the hit-count triple")
	}

	accuracy := 0.0
	var count300, count100, count50 int32
	if hasAccuracy {
		accuracy = *req.Accuracy
	} else {
		if req.Count300 != nil {
			count300 = *req.Count300
		}
		if req.Count100 != nil {
			count100 = *req.Count100
		}
		if req.Count50 != nil {
			count50 = *req.Count50
		}
		total := count300 + count100 + count50 + req.MissCount
		if total > 0 {
			accuracy = (float64(count300)*300 + float64(count100)*100 + float64(count50)*50) / (float64(total) * 300)
		}
	}

	beatmapBytes, err := s.beatmapSrc.Fetch(ctx, req.BeatmapID)
	if err != nil {
		return calculateResponse{}, err
	}

	algo := s.registry.Resolve(0, req.Mode, req.Mods)
	result, err := algo.Calculate(beatmapBytes, ppalgo.ScoreInputs{
		Mode:      req.Mode,
		Mods:      req.Mods,
		MaxCombo:  req.MaxCombo,
		Accuracy:  accuracy,
		Count300:  count300,
		Count100:  count100,
		Count50:   count50,
		CountMiss: req.MissCount,
	})
	if err != nil {
		return calculateResponse{}, apperrors.Wrap(apperrors.InternalServerError, "failed to calculate pp", err)
	}

	return calculateResponse{
		Stars:    result.Stars,
		PP:       result.PP,
		AR:       result.AR,
		OD:       result.OD,
		MaxCombo: req.MaxCombo,
	}, nil
}

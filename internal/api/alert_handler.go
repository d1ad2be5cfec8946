package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/pipeline"
)

const maxAlertBody = 64 << 10

type AlertPipeline interface {
	HandleAlert(ctx context.Context, alert pipeline.MotionAlert) (pipeline.Result, error)
}

type AlertHandler struct {
	Pipeline AlertPipeline
}

func NewAlertHandler(p AlertPipeline) *AlertHandler {
	return &AlertHandler{Pipeline: p}
}

type alertResponse struct {
	RunID    string           `json:"run_id"`
	Outcome  pipeline.Outcome `json:"outcome"`
	Plate    string           `json:"plate,omitempty"`
	OrderID  int64            `json:"order_id,omitempty"`
	Attempts int              `json:"attempts"`
	Notified bool             `json:"notified"`
	Error    string           `json:"error,omitempty"`
}

// POST /webhook
// The response is written once the run finishes.
func (h *AlertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		respondError(w, http.StatusBadRequest, "content type must be application/json")
		return
	}

	var alert pipeline.MotionAlert
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAlertBody))
	if err := dec.Decode(&alert); err != nil {
		respondError(w, http.StatusBadRequest, "malformed alert body")
		return
	}

	res, err := h.Pipeline.HandleAlert(r.Context(), alert)
	if err != nil {
		var ae *pipeline.AdmissionError
		if errors.As(err, &ae) {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "alert rejected", "reason": ae.Reason})
			return
		}
		log.Error().Err(err).Msg("alert handling failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := alertResponse{
		RunID:    res.RunID,
		Outcome:  res.Outcome,
		Plate:    res.Plate,
		OrderID:  res.OrderID,
		Attempts: res.Attempts,
		Notified: res.Notified,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	respondJSON(w, http.StatusOK, out)
}

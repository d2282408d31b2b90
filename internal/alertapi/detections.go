package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

func (a *API) handleIngestDetection(w http.ResponseWriter, r *http.Request) {
	var sample incident.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	snap, summary, err := a.pipeline.Ingest(r.Context(), sample)
	if err != nil {
		if incident.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error(r.Context(), err, "ingest detection sample", "source_id", sample.SourceID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]any{"source": snap}
	if summary != nil {
		resp["summary"] = summary
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := a.pipeline.SourceState(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleResetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := a.pipeline.ResetSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown source")
			return
		}
		a.logger.Error(r.Context(), err, "reset source", "source_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleRetrySource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := a.pipeline.RetrySource(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, incident.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown source")
		case errors.Is(err, incident.ErrDuplicateSuppressed):
			writeError(w, http.StatusConflict, "last report already delivered")
		default:
			a.logger.Error(r.Context(), err, "retry source", "source_id", id)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}

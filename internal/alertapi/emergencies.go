package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/mkaumee/Alert.Ai/internal/incident"
)

const defaultActiveWindow = 30 * time.Minute

func (a *API) handleReportEmergency(w http.ResponseWriter, r *http.Request) {
	var report incident.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	summary, err := a.pipeline.Process(r.Context(), report)
	if err != nil {
		if incident.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error(r.Context(), err, "process emergency report")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("alertai.incident.id", summary.Incident.ID),
		attribute.String("alertai.incident.status", string(summary.Incident.Status)),
	)

	a.writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListEmergencies(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	recs, err := a.ledger.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "list emergencies")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []incident.Record{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"incidents": recs})
}

func (a *API) handleActiveEmergencies(w http.ResponseWriter, r *http.Request) {
	window := defaultActiveWindow
	if s := r.URL.Query().Get("minutes"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid minutes")
			return
		}
		window = time.Duration(n) * time.Minute
	}

	recs, err := a.ledger.Active(r.Context(), window)
	if err != nil {
		a.logger.Error(r.Context(), err, "list active emergencies")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []incident.Record{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"incidents": recs})
}

func (a *API) handleGetEmergency(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("alertai.incident.id", id))

	rec, err := a.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "get emergency", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.String("alertai.incident.status", string(rec.Status)))
	a.writeJSON(w, http.StatusOK, rec)
}

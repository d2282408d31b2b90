package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

type registerRecipientRequest struct {
	Name     string               `json:"name"`
	Phone    string               `json:"phone"`
	Email    string               `json:"email"`
	Channels []recipients.Channel `json:"channels"`
	Location *incident.Location   `json:"location"`
}

func (a *API) handleRegisterRecipient(w http.ResponseWriter, r *http.Request) {
	var req registerRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Channels) == 0 {
		writeError(w, http.StatusBadRequest, "at least one channel is required")
		return
	}

	now := time.Now().UTC()
	rec := &recipients.Recipient{
		ID:        ulid.Make().String(),
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Channels:  req.Channels,
		Location:  req.Location,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.recipients.Put(r.Context(), rec); err != nil {
		a.logger.Error(r.Context(), err, "register recipient")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var loc incident.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	if err := a.recipients.SetLocation(r.Context(), id, loc, time.Now().UTC()); err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown recipient")
			return
		}
		a.logger.Error(r.Context(), err, "update recipient location", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	recs, err := a.recipients.List(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "list recipients")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []recipients.Recipient{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"recipients": recs})
}

// Package alertapi exposes the emergency pipeline over HTTP: report intake,
// detection sample ingestion, incident queries, source admin, and the
// recipient directory.
package alertapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/mkaumee/Alert.Ai/internal/ledger"
	"github.com/mkaumee/Alert.Ai/internal/pipeline"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	pipeline   *pipeline.Pipeline
	ledger     *ledger.Ledger
	recipients recipients.Store
	adminAuth  func(http.Handler) http.Handler
}

// New creates a new API handler. adminAuth guards the source admin routes;
// nil leaves them open (dev mode).
func New(logger log.Logger, p *pipeline.Pipeline, l *ledger.Ledger, recs recipients.Store, adminAuth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if p == nil {
		panic(xerrors.New("pipeline is required"))
	}
	if l == nil {
		panic(xerrors.New("ledger is required"))
	}
	if recs == nil {
		panic(xerrors.New("recipient store is required"))
	}
	return &API{
		logger:     logger,
		pipeline:   p,
		ledger:     l,
		recipients: recs,
		adminAuth:  adminAuth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/emergencies", a.handleReportEmergency)
		r.Get("/emergencies", a.handleListEmergencies)
		r.Get("/emergencies/active", a.handleActiveEmergencies)
		r.Get("/emergencies/{id}", a.handleGetEmergency)

		r.Post("/detections", a.handleIngestDetection)
		r.Get("/sources/{id}", a.handleGetSource)

		r.Group(func(r chi.Router) {
			if a.adminAuth != nil {
				r.Use(a.adminAuth)
			}
			r.Post("/sources/{id}/reset", a.handleResetSource)
			r.Post("/sources/{id}/retry", a.handleRetrySource)
		})

		r.Post("/recipients", a.handleRegisterRecipient)
		r.Put("/recipients/{id}/location", a.handleUpdateLocation)
		r.Get("/recipients", a.handleListRecipients)
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Package httpapi exposes the dispatch engine over HTTP. It owns no
// business rules; every operation delegates to the engine and maps its
// error taxonomy onto status codes.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/campus-dispatch/internal/campus"
	"github.com/example/campus-dispatch/internal/dispatch"
	"github.com/example/campus-dispatch/internal/ingest"
	"github.com/example/campus-dispatch/internal/notify"
)

type Server struct {
	engine *dispatch.Engine
	graph  *campus.Graph
	hub    *notify.Hub
	kafka  *ingest.Producer // optional, driver status fan-out
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(engine *dispatch.Engine, graph *campus.Graph, hub *notify.Hub, kafka *ingest.Producer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		graph:  graph,
		hub:    hub,
		kafka:  kafka,
		logger: logger,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/requests", s.handleSubmitRequest).Methods("POST")
	api.HandleFunc("/requests", s.handleListPending).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/requests/{id}/decline", s.handleDecline).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods("POST")

	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{id}/start", s.handleStartTrip).Methods("POST")
	api.HandleFunc("/trips/{id}/complete", s.handleCompleteTrip).Methods("POST")
	api.HandleFunc("/trips/{id}/cancel", s.handleCancelTrip).Methods("POST")
	api.HandleFunc("/trips/{id}/phase", s.handleSetPhase).Methods("POST")
	api.HandleFunc("/trips/{id}/ratings", s.handleSubmitRating).Methods("POST")

	api.HandleFunc("/routes/estimate", s.handleEstimateRoute).Methods("GET")
	api.HandleFunc("/routes/validate", s.handleValidateRoute).Methods("GET")
	api.HandleFunc("/routes/alternatives", s.handleAlternativeRoutes).Methods("GET")
	api.HandleFunc("/fares/estimate", s.handleEstimateFare).Methods("GET")
	api.HandleFunc("/drivers/closest", s.handleClosestDriver).Methods("GET")
	api.HandleFunc("/drivers/{id}", s.handleGetDriver).Methods("GET")
	api.HandleFunc("/locations", s.handleListLocations).Methods("GET")

	s.mux.HandleFunc("/internal/driver/status", s.handleDriverStatus).Methods("POST")
	s.mux.HandleFunc("/ws/{client_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

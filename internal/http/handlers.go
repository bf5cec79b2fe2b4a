package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/campus-dispatch/internal/campus"
	"github.com/example/campus-dispatch/internal/dispatch"
	"github.com/example/campus-dispatch/internal/models"
)

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var in dispatch.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, errors.Join(dispatch.ErrBadRequest, err))
		return
	}
	req, err := s.engine.Submit(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.PendingRequests())
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.Request(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

type driverAction struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var in driverAction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.DriverID == "" {
		s.writeError(w, r, dispatch.ErrBadRequest)
		return
	}
	trip, err := s.engine.Accept(mux.Vars(r)["id"], in.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var in driverAction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.DriverID == "" {
		s.writeError(w, r, dispatch.ErrBadRequest)
		return
	}
	if err := s.engine.Decline(mux.Vars(r)["id"], in.DriverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelRequest(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.engine.Trip(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.engine.StartTrip(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.engine.CompleteTrip(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.engine.CancelTrip(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phase models.Phase `json:"phase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, dispatch.ErrBadRequest)
		return
	}
	trip, err := s.engine.SetPhase(mux.Vars(r)["id"], in.Phase)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trip)
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	var in models.Rating
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, dispatch.ErrBadRequest)
		return
	}
	in.TripID = mux.Vars(r)["id"]
	if err := s.engine.SubmitRating(in); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleEstimateRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.engine.EstimateRoute(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleValidateRoute(w http.ResponseWriter, r *http.Request) {
	v := s.engine.ValidateRoute(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAlternativeRoutes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 3
	}
	routes, err := s.engine.AlternativeRoutes(r.URL.Query().Get("from"), r.URL.Query().Get("to"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleEstimateFare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	passengers, _ := strconv.Atoi(q.Get("passengers"))
	if passengers <= 0 {
		passengers = 1
	}
	cart := models.CartSize(q.Get("cart"))
	if cart == "" {
		cart = models.CartStandard
	}
	amount := s.engine.EstimateFare(q.Get("from"), q.Get("to"), passengers, cart)
	s.writeJSON(w, http.StatusOK, map[string]any{"fare": amount})
}

func (s *Server) handleClosestDriver(w http.ResponseWriter, r *http.Request) {
	pickup := r.URL.Query().Get("pickup")
	if !s.graph.Exists(pickup) {
		s.writeError(w, r, campus.ErrUnknownLocation)
		return
	}
	nearest := s.engine.ClosestDriver(pickup)
	if nearest == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"driver": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"driver": nearest})
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	drv, err := s.engine.Driver(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, drv)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.graph.Locations())
}

// handleDriverStatus accepts onboarding and status updates from the
// collaborator that owns the driver roster, and fans them out to Kafka when
// a producer is configured.
func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.writeError(w, r, dispatch.ErrBadRequest)
		return
	}
	stored, err := s.engine.UpsertDriver(d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.kafka != nil {
		if err := s.kafka.PublishDriver(stored); err != nil {
			s.logger.Warn("driver status publish failed", "driver_id", stored.ID, "error", err)
		}
	}
	s.writeJSON(w, http.StatusOK, stored)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response
		s.logger.Warn("ws upgrade failed", "client_id", clientID, "error", err)
		return
	}
	s.hub.Add(clientID, conn)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, campus.ErrUnknownLocation):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, dispatch.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, dispatch.ErrBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/dispatch-board/internal/board"
	"github.com/vaidashi/dispatch-board/internal/lifecycle"
	"github.com/vaidashi/dispatch-board/internal/models"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
)

const version = "0.2.0"

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OrderView is an order as the board shows it
type OrderView struct {
	models.Order
	DisplayStatus      models.Status `json:"display_status"`
	AppointmentDisplay string        `json:"appointment_display,omitempty"`
	Vehicle            string        `json:"vehicle,omitempty"`
}

// BoardView is the visible list with the header counts
type BoardView struct {
	Orders  []OrderView  `json:"orders"`
	Counts  board.Counts `json:"counts"`
	Version uint64       `json:"version"`
}

// Health represents the health check response
type Health struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Timestamp   string                 `json:"timestamp"`
	Store       string                 `json:"store"`
	Orders      int                    `json:"orders"`
	Subscribers int                    `json:"subscribers"`
	Database    string                 `json:"database,omitempty"`
	Breaker     map[string]interface{} `json:"circuit_breaker,omitempty"`
}

type createOrderRequest struct {
	OrderNumber   string `json:"order_number"`
	Year          string `json:"year"`
	Make          string `json:"make"`
	Model         string `json:"model"`
	Location      string `json:"location"`
	Notes         string `json:"notes"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason"`
	AppointmentAt string `json:"appointment_at"`
}

type editOrderRequest struct {
	OrderNumber      *string `json:"order_number"`
	Year             *string `json:"year"`
	Make             *string `json:"make"`
	Model            *string `json:"model"`
	Location         *string `json:"location"`
	Notes            *string `json:"notes"`
	Status           *string `json:"status"`
	DeclineReason    *string `json:"decline_reason"`
	AppointmentAt    *string `json:"appointment_at"`
	ClearAppointment bool    `json:"clear_appointment"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type appointmentRequest struct {
	AppointmentAt *string `json:"appointment_at"`
}

func (s *Server) view(o models.Order) OrderView {
	return OrderView{
		Order:              o,
		DisplayStatus:      o.DisplayStatus(),
		AppointmentDisplay: o.AppointmentDisplay(s.location),
		Vehicle:            o.Vehicle(),
	}
}

// parseAppointment reads an RFC 3339 instant. Form fields that do not
// parse are treated as absent.
func parseAppointment(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &at, true
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:      "ok",
		Version:     version,
		Timestamp:   s.clock.Now().Format(time.RFC3339),
		Store:       s.config.StoreDriver,
		Orders:      len(s.engine.Orders()),
		Subscribers: s.broadcaster.Subscribers(),
	}
	code := http.StatusOK

	if db := s.components.DB; db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health.Database = "ok"
		if err := db.Ping(ctx); err != nil {
			s.logger.Warn("Database ping failed", "error", err)
			health.Database = "unreachable"
			health.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	if b := s.components.Breaker; b != nil {
		health.Breaker = b.GetMetrics()
	}

	s.respondWithJSON(w, code, ApiResponse{
		Success: code == http.StatusOK,
		Data:    health,
	})
}

// getOrdersHandler returns the visible orders for the filters in the query
func (s *Server) getOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := board.ParseStatusFilter(q.Get("status"))
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	appointment, err := board.ParseAppointmentFilter(q.Get("appointment"))
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	orders, counts := s.engine.Visible(board.Criteria{
		Search:      q.Get("q"),
		Status:      status,
		Appointment: appointment,
	})

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, s.view(o))
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: BoardView{
			Orders:  views,
			Counts:  counts,
			Version: s.engine.Version(),
		},
	})
}

// getOrderByIDHandler returns an order by ID
func (s *Server) getOrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.Order(mux.Vars(r)["id"])
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.view(order)})
}

// createOrderHandler creates a new order
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	at, _ := parseAppointment(req.AppointmentAt)

	id, err := s.engine.Create(r.Context(), lifecycle.CreateRequest{
		OrderNumber:   req.OrderNumber,
		Year:          req.Year,
		Make:          req.Make,
		Model:         req.Model,
		Location:      req.Location,
		Notes:         req.Notes,
		Status:        req.Status,
		DeclineReason: req.DeclineReason,
		AppointmentAt: at,
	})
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Data:    map[string]string{"id": id},
	})
}

// editOrderHandler applies the edit form
func (s *Server) editOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req editOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	edit := lifecycle.EditRequest{
		OrderNumber:      req.OrderNumber,
		Year:             req.Year,
		Make:             req.Make,
		Model:            req.Model,
		Location:         req.Location,
		Notes:            req.Notes,
		Status:           req.Status,
		DeclineReason:    req.DeclineReason,
		ClearAppointment: req.ClearAppointment,
	}
	if req.AppointmentAt != nil {
		edit.AppointmentAt, _ = parseAppointment(*req.AppointmentAt)
	}

	if err := s.engine.Edit(r.Context(), id, edit); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"id": id}})
}

// updateOrderStatusHandler moves an order to another status
func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.SetStatus(r.Context(), id, req.Status, req.Reason); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	// SetStatus already accepted it
	status, _ := lifecycle.ParseStatus(req.Status)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]string{"id": id, "status": string(status)},
	})
}

// setAppointmentHandler sets or clears the appointment. Unlike the forms,
// an unparseable instant here is an error.
func (s *Server) setAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req appointmentRequest
	if !s.decode(w, r, &req) {
		return
	}

	var at *time.Time
	if req.AppointmentAt != nil && strings.TrimSpace(*req.AppointmentAt) != "" {
		parsed, ok := parseAppointment(*req.AppointmentAt)
		if !ok {
			s.respondWithAppError(w, apperrors.NewValidationError("appointment_at must be an RFC 3339 timestamp"))
			return
		}
		at = parsed
	}

	if err := s.engine.SetAppointment(r.Context(), id, at); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"id": id}})
}

// deleteOrderHandler removes an order
func (s *Server) deleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.engine.Delete(r.Context(), id); err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"id": id}})
}

// getCircuitBreakerStatusHandler returns the store circuit breaker state
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	b := s.components.Breaker
	if b == nil {
		s.respondWithError(w, http.StatusNotFound, "the memory store has no circuit breaker")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: b.GetMetrics()})
}

// resetCircuitBreakerHandler closes the store circuit breaker
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	b := s.components.Breaker
	if b == nil {
		s.respondWithError(w, http.StatusNotFound, "the memory store has no circuit breaker")
		return
	}

	b.Reset()
	s.logger.Info("Circuit breaker reset")

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Circuit breaker reset successfully",
		},
	})
}

// runAutocompleteHandler runs a completion pass immediately
func (s *Server) runAutocompleteHandler(w http.ResponseWriter, r *http.Request) {
	res := s.engine.RunAutocomplete(r.Context())
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: res})
}

// eventsHandler streams change events as server-sent events
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	// the stream outlives the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	events, unsubscribe := s.broadcaster.Subscribe(32)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Error("Event stream cannot flush", "error", err)
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("Failed to marshal order event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

// respondWithAppError maps an error onto its status code
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	code := apperrors.StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "status", code)
	}
	s.respondWithError(w, code, err.Error())
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/booking-core/internal/availability"
	"github.com/wolfman30/booking-core/internal/identity"
	"github.com/wolfman30/booking-core/internal/reservations"
	"github.com/wolfman30/booking-core/pkg/logging"
)

// BookingService is the reservation surface the HTTP layer calls.
type BookingService interface {
	ResolveSlots(ctx context.Context, providerID, typeID string, date civil.Date, timezone string) ([]availability.Slot, error)
	CreateHold(ctx context.Context, req reservations.HoldRequest) (reservations.Hold, error)
	PromoteHold(ctx context.Context, id uuid.UUID, method reservations.PromoteMethod) (reservations.Appointment, error)
	ReleaseHold(ctx context.Context, id uuid.UUID) error
	CancelConfirmed(ctx context.Context, id uuid.UUID, reason reservations.CancellationReason) (reservations.Appointment, error)
	RecordPayment(ctx context.Context, id uuid.UUID) (reservations.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (reservations.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (reservations.Appointment, error)
}

// BookingHandler serves slot lookup and the appointment lifecycle.
type BookingHandler struct {
	service BookingService
	logger  *logging.Logger
}

func NewBookingHandler(service BookingService, logger *logging.Logger) *BookingHandler {
	if service == nil {
		panic("handlers: booking service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{service: service, logger: logger}
}

type slotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type slotsResponse struct {
	ProviderID        string         `json:"provider_id"`
	AppointmentTypeID string         `json:"appointment_type_id"`
	Date              string         `json:"date"`
	Slots             []slotResponse `json:"slots"`
}

// ListSlots handles GET /v1/providers/{providerID}/slots.
func (h *BookingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	q := r.URL.Query()
	typeID := strings.TrimSpace(q.Get("appointment_type_id"))
	date, err := civil.ParseDate(q.Get("date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	slots, err := h.service.ResolveSlots(r.Context(), providerID, typeID, date, q.Get("timezone"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := slotsResponse{
		ProviderID:        providerID,
		AppointmentTypeID: typeID,
		Date:              date.String(),
		Slots:             make([]slotResponse, 0, len(slots)),
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotResponse{Start: s.Start, End: s.End})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createHoldRequest struct {
	ClientID          string    `json:"client_id"`
	ProviderID        string    `json:"provider_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
	Start             time.Time `json:"start"`
	Timezone          string    `json:"timezone"`
}

// CreateHold handles POST /v1/holds. Clients hold for themselves; admins
// may name the client.
func (h *BookingHandler) CreateHold(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	var body createHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	clientID := caller.UserID
	if caller.Role == identity.RoleAdmin && strings.TrimSpace(body.ClientID) != "" {
		clientID = body.ClientID
	}

	hold, err := h.service.CreateHold(r.Context(), reservations.HoldRequest{
		ClientID:          clientID,
		ProviderID:        body.ProviderID,
		AppointmentTypeID: body.AppointmentTypeID,
		Start:             body.Start,
		Timezone:          body.Timezone,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

type promoteRequest struct {
	Method reservations.PromoteMethod `json:"method"`
}

// Promote handles POST /v1/appointments/{id}/promote. Clients may choose
// pay_later; pay_now is sent by an admin once the payment is captured.
func (h *BookingHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var body promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	// pay_now records a captured payment, so only the payment side may send it.
	if caller, _ := identity.FromContext(r.Context()); body.Method == reservations.PayNow && caller.Role != identity.RoleAdmin {
		jsonError(w, "pay_now requires a captured payment", http.StatusForbidden)
		return
	}
	apt, err := h.service.PromoteHold(r.Context(), id, body.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

// ReleaseHold handles DELETE /v1/holds/{id}.
func (h *BookingHandler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if err := h.service.ReleaseHold(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelRequest struct {
	Code string `json:"code"`
	Note string `json:"note"`
}

// Cancel handles POST /v1/appointments/{id}/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	var body cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	caller, _ := identity.FromContext(r.Context())
	apt, err := h.service.CancelConfirmed(r.Context(), id, reservations.CancellationReason{
		Code:       body.Code,
		Note:       body.Note,
		CanceledBy: caller.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

// RecordPayment handles POST /v1/appointments/{id}/payment.
func (h *BookingHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	apt, err := h.service.RecordPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

// Complete handles POST /v1/appointments/{id}/complete.
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r)
	if !ok {
		return
	}
	apt, err := h.service.Complete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

// GetAppointment handles GET /v1/appointments/{id}.
func (h *BookingHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	apt, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if caller, _ := identity.FromContext(r.Context()); !isParty(caller, apt) {
		// Hide existence from non-parties.
		h.writeError(w, r, reservations.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

// authorized parses the appointment id and checks the caller is the host, a
// participant or an admin.
func (h *BookingHandler) authorized(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := appointmentID(w, r)
	if !ok {
		return uuid.Nil, false
	}
	caller, _ := identity.FromContext(r.Context())
	if caller.Role == identity.RoleAdmin {
		return id, true
	}
	apt, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return uuid.Nil, false
	}
	if !isParty(caller, apt) {
		jsonError(w, "forbidden", http.StatusForbidden)
		return uuid.Nil, false
	}
	return id, true
}

func isParty(caller identity.Identity, apt reservations.Appointment) bool {
	if caller.Role == identity.RoleAdmin {
		return true
	}
	for _, party := range apt.Parties() {
		if party == caller.UserID {
			return true
		}
	}
	return false
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch reservations.KindOf(err) {
	case reservations.KindValidation:
		status = http.StatusBadRequest
	case reservations.KindNotFound:
		status = http.StatusNotFound
	case reservations.KindConflict:
		status = http.StatusConflict
	case reservations.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("booking request failed", "error", err, "path", r.URL.Path)
		writeJSON(w, status, errorResponse{Error: "internal error", Code: "system_error"})
		return
	}
	msg := err.Error()
	var rerr *reservations.Error
	if errors.As(err, &rerr) && rerr.Err != nil && rerr.Kind == reservations.KindValidation {
		msg = rerr.Err.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: reservations.CodeOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

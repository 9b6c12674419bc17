/*
handlers.go - HTTP API handlers for the booking operations engine

PURPOSE:
  Exposes the workflow and task engines via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Bookings (per tenant):
    GET    /api/tenants/{tenant}/bookings/{id}             Get booking + tasks
    POST   /api/tenants/{tenant}/bookings/{id}/confirm     Confirm (DRAFT -> CONFIRMED)
    POST   /api/tenants/{tenant}/bookings/{id}/cancel      Cancel (idempotent)
    POST   /api/tenants/{tenant}/bookings/{id}/complete    Complete
    POST   /api/tenants/{tenant}/bookings/{id}/reschedule  Move to a new slot
    POST   /api/tenants/{tenant}/bookings/{id}/duplicate   Clone as new DRAFT
    POST   /api/tenants/{tenant}/availability              Standalone conflict check

  Tasks:
    POST   /api/tenants/{tenant}/tasks/{id}/assign         Replace lead assignee
    POST   /api/tenants/{tenant}/tasks/{id}/assignees      Add an assignee
    DELETE /api/tenants/{tenant}/tasks/{id}/assignees/{user} Remove an assignee
    POST   /api/tenants/{tenant}/tasks/{id}/complete       Complete task

  Wallets and audit:
    GET    /api/tenants/{tenant}/wallets/{user}            Wallet balances
    GET    /api/tenants/{tenant}/audit/verify              Verify hash chain

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Actor not allowed to perform the operation
  - 404: Resource not found
  - 409: Invalid transition, conflict, insufficient balance
  - 422: Precondition failed
  - 500: Internal errors

SECURITY NOTE:
  The acting user arrives in the request body (actor_user_id / actor_role);
  there is no authentication middleware. Put this behind a gateway that
  validates identity before trusting those fields.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/workflow.go: Booking operations
  - engine/tasks.go: Task operations
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tidework/ops-engine/engine"
	"github.com/tidework/ops-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    engine.Store
	Workflow *engine.Workflow
	Tasks    *engine.TaskEngine
	Logger   *zap.Logger
}

// NewHandler wires the handler with its engines.
func NewHandler(store engine.Store, wf *engine.Workflow, te *engine.TaskEngine, logger *zap.Logger) *Handler {
	return &Handler{Store: store, Workflow: wf, Tasks: te, Logger: logger}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.BookingID(chi.URLParam(r, "id"))

	var booking *engine.Booking
	var tasks []engine.Task
	err := h.Store.WithUnitOfWork(r.Context(), func(uow engine.UnitOfWork) error {
		var err error
		booking, err = uow.Bookings().Find(r.Context(), tenant, id)
		if err != nil {
			return err
		}
		if booking == nil {
			return engine.ErrNotFound
		}
		tasks, err = uow.Tasks().ByBooking(r.Context(), tenant, id)
		return err
	})
	if err != nil {
		h.writeDomainError(w, "Failed to get booking", err)
		return
	}

	taskDTOs := make([]TaskDTO, 0, len(tasks))
	for i := range tasks {
		taskDTOs = append(taskDTOs, toTaskDTO(&tasks[i]))
	}
	writeJSON(w, http.StatusOK, struct {
		Booking BookingDTO `json:"booking"`
		Tasks   []TaskDTO  `json:"tasks"`
	}{toBookingDTO(booking), taskDTOs})
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("confirm")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.BookingID(chi.URLParam(r, "id"))

	booking, err := h.Workflow.Confirm(r.Context(), tenant, id)
	metrics.ObserveWorkflow("confirm", err)
	if err != nil {
		h.writeDomainError(w, "Failed to confirm booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("cancel")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req CancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	booking, err := h.Workflow.Cancel(r.Context(), tenant, id, req.Reason)
	metrics.ObserveWorkflow("cancel", err)
	if err != nil {
		h.writeDomainError(w, "Failed to cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("complete")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.BookingID(chi.URLParam(r, "id"))

	booking, err := h.Workflow.Complete(r.Context(), tenant, id)
	metrics.ObserveWorkflow("complete", err)
	if err != nil {
		h.writeDomainError(w, "Failed to complete booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("reschedule")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.BookingID(chi.URLParam(r, "id"))

	var req RescheduleBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	eventDate, err := time.Parse("2006-01-02", req.EventDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event_date format (use YYYY-MM-DD)", err)
		return
	}

	booking, err := h.Workflow.Reschedule(r.Context(), tenant, id, engine.RescheduleInput{
		EventDate: eventDate,
		StartTime: req.StartTime,
	})
	metrics.ObserveWorkflow("reschedule", err)
	if err != nil {
		h.writeDomainError(w, "Failed to reschedule booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(booking))
}

func (h *Handler) DuplicateBooking(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("duplicate")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.BookingID(chi.URLParam(r, "id"))

	booking, err := h.Workflow.Duplicate(r.Context(), tenant, id)
	metrics.ObserveWorkflow("duplicate", err)
	if err != nil {
		h.writeDomainError(w, "Failed to duplicate booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(booking))
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))

	var req AvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	eventDate, err := time.Parse("2006-01-02", req.EventDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event_date format (use YYYY-MM-DD)", err)
		return
	}

	var report engine.AvailabilityReport
	checker := &engine.ConflictChecker{}
	err = h.Store.WithUnitOfWork(r.Context(), func(uow engine.UnitOfWork) error {
		var err error
		report, err = checker.Check(r.Context(), uow, tenant, engine.CheckInput{
			PackageID:       engine.PackageID(req.PackageID),
			EventDate:       eventDate,
			StartTime:       req.StartTime,
			DurationMinutes: req.DurationMinutes,
		})
		return err
	})
	if err != nil {
		h.writeDomainError(w, "Failed to check availability", err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		OK:                 report.OK,
		RequiredStaffCount: report.RequiredStaffCount,
		EligibleCount:      report.EligibleCount,
		BusyCount:          report.BusyCount,
		AvailableCount:     report.AvailableCount,
	})
}

// =============================================================================
// TASK HANDLERS
// =============================================================================

func (h *Handler) AssignTask(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("assign_task")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.TaskID(chi.URLParam(r, "id"))

	var req AssignTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	task, err := h.Tasks.AssignTask(r.Context(), tenant, id, engine.UserID(req.UserID))
	metrics.ObserveWorkflow("assign_task", err)
	if err != nil {
		h.writeDomainError(w, "Failed to assign task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

func (h *Handler) AddAssignee(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("add_assignee")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.TaskID(chi.URLParam(r, "id"))

	var req AddAssigneeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	role := engine.AssigneeRole(req.Role)
	if role == "" {
		role = engine.RoleAssistant
	}
	if role != engine.RoleLead && role != engine.RoleAssistant {
		writeError(w, http.StatusBadRequest, "role must be LEAD or ASSISTANT", nil)
		return
	}

	task, err := h.Tasks.AddAssignee(r.Context(), tenant, id, engine.UserID(req.UserID), role)
	metrics.ObserveWorkflow("add_assignee", err)
	if err != nil {
		h.writeDomainError(w, "Failed to add assignee", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

func (h *Handler) RemoveAssignee(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("remove_assignee")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.TaskID(chi.URLParam(r, "id"))
	userID := engine.UserID(chi.URLParam(r, "user"))

	task, err := h.Tasks.RemoveAssignee(r.Context(), tenant, id, userID)
	metrics.ObserveWorkflow("remove_assignee", err)
	if err != nil {
		h.writeDomainError(w, "Failed to remove assignee", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

func (h *Handler) ListAssignees(w http.ResponseWriter, r *http.Request) {
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.TaskID(chi.URLParam(r, "id"))

	var assignees []engine.TaskAssignee
	err := h.Store.WithUnitOfWork(r.Context(), func(uow engine.UnitOfWork) error {
		var err error
		assignees, err = uow.Assignees().ByTask(r.Context(), tenant, id)
		return err
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list assignees", err)
		return
	}

	dtos := make([]AssigneeDTO, 0, len(assignees))
	for _, a := range assignees {
		dtos = append(dtos, toAssigneeDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	defer metrics.TrackWorkflow("complete_task")()
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	id := engine.TaskID(chi.URLParam(r, "id"))

	var req CompleteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorUserID == "" || req.ActorRole == "" {
		writeError(w, http.StatusBadRequest, "actor_user_id and actor_role are required", nil)
		return
	}

	result, err := h.Tasks.CompleteTask(r.Context(), tenant, id, actorFrom(req.ActorUserID, req.ActorRole))
	metrics.ObserveWorkflow("complete_task", err)
	if err != nil {
		h.writeDomainError(w, "Failed to complete task", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Task          TaskDTO `json:"task"`
		AccruedTotal  string  `json:"accrued_total"`
		WalletChanged bool    `json:"wallet_changed"`
	}{toTaskDTO(result.Task), result.AccruedTotal.Value.String(), result.WalletChanged})
}

// =============================================================================
// WALLET AND AUDIT HANDLERS
// =============================================================================

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))
	userID := engine.UserID(chi.URLParam(r, "user"))

	var wallet *engine.EmployeeWallet
	err := h.Store.WithUnitOfWork(r.Context(), func(uow engine.UnitOfWork) error {
		var err error
		wallet, err = uow.Wallets().FindLocked(r.Context(), tenant, userID)
		return err
	})
	if err != nil {
		h.writeDomainError(w, "Failed to get wallet", err)
		return
	}
	if wallet == nil {
		writeError(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wallet))
}

func (h *Handler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	tenant := engine.TenantID(chi.URLParam(r, "tenant"))

	result, err := h.Workflow.VerifyAuditChain(r.Context(), tenant)
	if err != nil {
		h.writeDomainError(w, "Failed to verify audit chain", err)
		return
	}
	writeJSON(w, http.StatusOK, AuditVerifyDTO{
		Valid:         result.Valid,
		Entries:       result.Entries,
		BrokenEntryID: result.BrokenEntryID,
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeDomainError maps engine errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, http.StatusForbidden, message, err)
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrConflict),
		errors.Is(err, engine.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, engine.ErrPreconditionFailed):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		// Unexpected errors are logged server-side only; clients get the
		// generic message without internal detail.
		h.Logger.Error("request failed", zap.String("message", message), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

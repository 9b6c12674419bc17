/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/tidework/ops-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID                 string  `json:"id"`
	TenantID           string  `json:"tenant_id"`
	Status             string  `json:"status"`
	PackageID          string  `json:"package_id"`
	EventDate          string  `json:"event_date"`
	StartTime          string  `json:"start_time,omitempty"`
	DurationMinutes    int     `json:"duration_minutes,omitempty"`
	TotalPrice         string  `json:"total_price"`
	AmountPaid         string  `json:"amount_paid"`
	Refund             string  `json:"refund"`
	Currency           string  `json:"currency"`
	CompletionPercent  int     `json:"completion_percent"`
	CancellationReason string  `json:"cancellation_reason,omitempty"`
	CancelledAt        *string `json:"cancelled_at,omitempty"`
}

// TaskDTO represents a task in API responses.
type TaskDTO struct {
	ID                 string  `json:"id"`
	BookingID          string  `json:"booking_id"`
	Title              string  `json:"title"`
	Status             string  `json:"status"`
	AssignedUserID     *string `json:"assigned_user_id,omitempty"`
	CommissionSnapshot string  `json:"commission_snapshot"`
	DueDate            string  `json:"due_date"`
}

// AssigneeDTO represents a task assignee.
type AssigneeDTO struct {
	UserID             string `json:"user_id"`
	Role               string `json:"role"`
	CommissionSnapshot string `json:"commission_snapshot"`
}

// WalletDTO represents an employee wallet.
type WalletDTO struct {
	UserID         string `json:"user_id"`
	PendingBalance string `json:"pending_balance"`
	PayableBalance string `json:"payable_balance"`
	Currency       string `json:"currency"`
}

// CancelBookingRequest is the body for cancelling a booking.
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// RescheduleBookingRequest is the body for moving a booking.
type RescheduleBookingRequest struct {
	EventDate string `json:"event_date"`
	StartTime string `json:"start_time"`
}

// AssignTaskRequest is the body for (re)assigning a task's lead.
type AssignTaskRequest struct {
	UserID string `json:"user_id"`
}

// AddAssigneeRequest is the body for adding a task assignee.
type AddAssigneeRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CompleteTaskRequest is the body for completing a task.
type CompleteTaskRequest struct {
	ActorUserID string `json:"actor_user_id"`
	ActorRole   string `json:"actor_role"`
}

// AvailabilityRequest is the body for a standalone availability check.
type AvailabilityRequest struct {
	PackageID       string `json:"package_id"`
	EventDate       string `json:"event_date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// AvailabilityDTO mirrors engine.AvailabilityReport.
type AvailabilityDTO struct {
	OK                 bool `json:"ok"`
	RequiredStaffCount int  `json:"required_staff_count"`
	EligibleCount      int  `json:"eligible_count"`
	BusyCount          int  `json:"busy_count"`
	AvailableCount     int  `json:"available_count"`
}

// AuditVerifyDTO is the result of an audit chain verification.
type AuditVerifyDTO struct {
	Valid         bool   `json:"valid"`
	Entries       int    `json:"entries"`
	BrokenEntryID string `json:"broken_entry_id,omitempty"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBookingDTO(b *engine.Booking) BookingDTO {
	dto := BookingDTO{
		ID:                 string(b.ID),
		TenantID:           string(b.TenantID),
		Status:             string(b.Status),
		PackageID:          string(b.PackageID),
		EventDate:          b.EventDate.Format("2006-01-02"),
		StartTime:          b.StartTime,
		DurationMinutes:    b.DurationMinutes,
		TotalPrice:         b.TotalPrice.Value.String(),
		AmountPaid:         b.AmountPaid.Value.String(),
		Refund:             b.Refund.Value.String(),
		Currency:           b.TotalPrice.Currency,
		CompletionPercent:  b.CompletionPercent,
		CancellationReason: b.CancellationReason,
	}
	if b.CancelledAt != nil {
		s := b.CancelledAt.UTC().Format(time.RFC3339)
		dto.CancelledAt = &s
	}
	return dto
}

func toTaskDTO(t *engine.Task) TaskDTO {
	dto := TaskDTO{
		ID:                 string(t.ID),
		BookingID:          string(t.BookingID),
		Title:              t.Title,
		Status:             string(t.Status),
		CommissionSnapshot: t.CommissionSnapshot.Value.String(),
		DueDate:            t.DueDate.UTC().Format(time.RFC3339),
	}
	if t.AssignedUserID != nil {
		s := string(*t.AssignedUserID)
		dto.AssignedUserID = &s
	}
	return dto
}

func toAssigneeDTO(a engine.TaskAssignee) AssigneeDTO {
	return AssigneeDTO{
		UserID:             string(a.UserID),
		Role:               string(a.Role),
		CommissionSnapshot: a.CommissionSnapshot.Value.String(),
	}
}

func toWalletDTO(w *engine.EmployeeWallet) WalletDTO {
	return WalletDTO{
		UserID:         string(w.UserID),
		PendingBalance: w.PendingBalance.Value.String(),
		PayableBalance: w.PayableBalance.Value.String(),
		Currency:       w.PendingBalance.Currency,
	}
}

func actorFrom(userID, role string) engine.Actor {
	return engine.Actor{UserID: engine.UserID(userID), Role: engine.UserRole(role)}
}

/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Domain error to HTTP status mapping (writeDomainError)
- Internal error responses carrying no error detail
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidework/ops-engine/engine"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteDomainError_StatusMapping(t *testing.T) {
	h := &Handler{Logger: zap.NewNop()}

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", engine.ErrNotFound, http.StatusNotFound},
		{"forbidden", engine.ErrForbidden, http.StatusForbidden},
		{"invalid transition", &engine.InvalidTransitionError{Current: engine.BookingDraft, Target: engine.BookingCompleted}, http.StatusConflict},
		{"conflict", engine.ErrConflict, http.StatusConflict},
		{"insufficient balance", engine.ErrInsufficientBalance, http.StatusConflict},
		{"precondition", &engine.PreconditionError{Reason: "booking has no start time"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeDomainError(rec, "Operation failed", tc.err)

			assert.Equal(t, tc.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, "Operation failed", resp.Error)
			assert.NotEmpty(t, resp.Details, "classified errors carry their detail")
		})
	}
}

func TestWriteDomainError_InternalError_NoDetailLeaked(t *testing.T) {
	// GIVEN: An error outside the domain taxonomy
	// WHEN: It is written as a response
	// THEN: The client sees a 500 with the generic message only

	h := &Handler{Logger: zap.NewNop()}
	rec := httptest.NewRecorder()

	h.writeDomainError(rec, "Failed to confirm booking", errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "Failed to confirm booking", resp.Error)
	assert.Empty(t, resp.Details)
}

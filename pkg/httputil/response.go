package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/flock/pkg/apperr"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/paging"
)

// Envelope is the uniform response body for every /api/v1 route
type Envelope struct {
	Success    bool               `json:"success"`
	Code       int                `json:"code"`
	Message    string             `json:"message"`
	Data       interface{}        `json:"data,omitempty"`
	Pagination *paging.Pagination `json:"pagination,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful envelope
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	_ = WriteJSON(w, status, Envelope{
		Success: true,
		Code:    status,
		Message: message,
		Data:    data,
	})
}

// WriteOK writes a 200 envelope
func WriteOK(w http.ResponseWriter, message string, data interface{}) {
	WriteSuccess(w, http.StatusOK, message, data)
}

// WriteCreated writes a 201 envelope
func WriteCreated(w http.ResponseWriter, message string, data interface{}) {
	WriteSuccess(w, http.StatusCreated, message, data)
}

// WritePage writes a 200 envelope carrying one page of results
func WritePage(w http.ResponseWriter, message string, data interface{}, pagination paging.Pagination) {
	_ = WriteJSON(w, http.StatusOK, Envelope{
		Success:    true,
		Code:       http.StatusOK,
		Message:    message,
		Data:       data,
		Pagination: &pagination,
	})
}

// WriteErrorMessage writes a failed envelope with an explicit status
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, Envelope{
		Success: false,
		Code:    status,
		Message: message,
	})
}

// WriteBadRequest writes a 400 envelope
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteError maps err onto its status via apperr. Uncategorised errors are
// logged and reported as a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	message := apperr.Message(err)

	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).
			Errorf("%s %s failed", r.Method, r.URL.Path)
		message = "Internal server error"
	}

	WriteErrorMessage(w, status, message)
}

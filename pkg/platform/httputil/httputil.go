// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "hycredit/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to an HTTP status and a stable error body.
// Internal errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.GetCode(err)
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		resp.ErrorDescription = dErrors.Message(err)
	}
	WriteJSON(w, StatusFor(code), resp)
}

// StatusFor maps a domain error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeConflict, dErrors.CodeInvalidState, dErrors.CodeDuplicateIdentifier, dErrors.CodeAlreadyRetired:
		return http.StatusConflict
	case dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable, dErrors.CodeUnconfirmed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return dErrors.New(dErrors.CodeBadRequest, "malformed JSON body")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

package common

import (
	"encoding/json"
	"net/http"
)

// DataEnvelope wraps successful payloads as {"data": ...}.
type DataEnvelope[T any] struct {
	Data T `json:"data"`
}

// ErrorBody is the shape under "error" in every failure response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps an ErrorBody as {"error": ...}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON encodes v with the given status. Encoding errors after the header is sent
// cannot be reported to the client and are dropped.
func JSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data writes v inside the success envelope.
func Data[T any](w http.ResponseWriter, status int, v T) {
	JSON(w, status, DataEnvelope[T]{Data: v})
}

// JSONError writes the error envelope.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

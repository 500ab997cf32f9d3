package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// encodeFailure is sent when a response value cannot be encoded.
var encodeFailure = []byte(`{"error":{"code":"INTERNAL","message":"failed to encode response"}}` + "\n")

// JSON writes the provided value to the response writer as JSON. The value is
// encoded before the status line goes out, so a value that cannot be encoded
// turns into a 500 instead of an empty body.
func JSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(encodeFailure)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// Data wraps v in the {"data": ...} envelope.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, map[string]any{"data": v})
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// DecodeJSON reads the request body into v. An empty body leaves v untouched
// when optional is set. On failure a 400, or a 413 for bodies cut off by
// http.MaxBytesReader, has already been written and false is returned.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteAppError(w, PayloadTooLarge(tooLarge.Limit))
		return false
	}
	WriteAppError(w, BadRequest(err))
	return false
}

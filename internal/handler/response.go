package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func messageResponse(msg string) map[string]string {
	return map[string]string{"message": msg}
}

// validationResponse carries per-field messages keyed by JSON field name.
type validationResponse struct {
	Error  string            `json:"error"`
	Fields validation.Errors `json:"fields"`
}

// decodeJSON reads a size-limited JSON body into v. It writes the error
// response itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
		case errors.Is(err, io.EOF):
			writeJSON(w, http.StatusBadRequest, errorResponse("request body is required"))
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		}
		return false
	}
	return true
}

// validate runs an ozzo validation and writes a 400 when it fails.
func validate(w http.ResponseWriter, v validation.Validatable) bool {
	err := v.Validate()
	if err == nil {
		return true
	}

	var fields validation.Errors
	if errors.As(err, &fields) {
		writeJSON(w, http.StatusBadRequest, validationResponse{Error: "invalid request", Fields: fields})
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	return false
}

package api

import (
	"net/http"

	"github.com/davidahmann/curator/internal/moderation"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeDomainError maps a moderation error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	code := moderation.Code(err)
	writeError(w, statusFor(code), code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_STATE", "ALREADY_DECIDED", "CONFLICT":
		return http.StatusConflict
	case "INVALID_VERDICT", "INVALID_AMOUNT", "INVALID_USER", "UNKNOWN_SPECIES", "INVALID_CONTRIBUTION":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chunkhaven/chunkd/internal/uploadmanager"
)

// statusByCode mirrors the {ErrorCode -> http.Status} table the teacher
// builds into its package-level NewError(...) variables in
// unrouted_handler.go; here the status lives in a lookup table instead of
// on the error itself, since uploadmanager.Error is a domain type that
// should not know about HTTP.
var statusByCode = map[string]int{
	"missing_user_key":    http.StatusBadRequest,
	"missing_fields":      http.StatusBadRequest,
	"invalid_sizes":       http.StatusBadRequest,
	"invalid_action":      http.StatusBadRequest,
	"missing_chunk":       http.StatusBadRequest,
	"missing_sample":      http.StatusBadRequest,
	"invalid_chunk_index": http.StatusBadRequest,
	"chunk_out_of_range":  http.StatusBadRequest,
	"upload_not_found":    http.StatusNotFound,
	"user_not_found":      http.StatusNotFound,
}

func statusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	// missing_chunk_<N> during assembly and any other unrecognized code
	// surface as a 500, per spec.md §7.
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to a status/code pair and writes the `{error: code}`
// body spec.md §6 specifies. Unrecognized errors are logged with detail
// and reported to the client as the generic internal_error, never leaking
// internals, matching spec.md §7's propagation policy.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	if merr, ok := err.(*uploadmanager.Error); ok {
		status := statusForCode(merr.Code)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", "code", merr.Code, "error", merr.Message)
		}
		writeJSON(w, status, errorResponse{Error: merr.Code})
		return
	}

	log.Error("unhandled error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
}

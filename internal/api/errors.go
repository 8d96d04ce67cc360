package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alecgard/famledger/internal/apperr"
	"github.com/alecgard/famledger/internal/service"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope mirrors a failed service.Result.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind"`
}

// writeError writes a failure envelope for problems caught before the
// service is called.
func writeError(w http.ResponseWriter, statusCode int, kind apperr.Kind, message string) {
	writeJSON(w, statusCode, errorEnvelope{Error: message, Kind: string(kind)})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeResult writes res with okStatus on success, or the status mapped from
// its kind on failure.
func writeResult[T any](w http.ResponseWriter, res service.Result[T], okStatus int) {
	if !res.Success {
		writeJSON(w, statusFor(res.Kind), res)
		return
	}
	writeJSON(w, okStatus, res)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindDuplicateIdentity, apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindAuthenticationFailed:
		return http.StatusUnauthorized
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes the request body into v, enforcing a size limit. An empty
// body leaves v untouched.
func readJSON(r *http.Request, v any) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	err := json.NewDecoder(lr).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// decodeBody reads the request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := readJSON(r, v); err != nil {
		writeError(w, http.StatusBadRequest, apperr.KindValidation, "failed to parse request body")
		return false
	}
	return true
}

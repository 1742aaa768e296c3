package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"optionsvault/gateway/middleware"
	nativecommon "optionsvault/native/common"
	"optionsvault/services/vaultd/api"
	"optionsvault/services/vaultd/indexer"
)

const maxBodyBytes = 1 << 20

var errNoCaller = errors.New("caller identity required")

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
	// Retryable is set when the same request may succeed later.
	Retryable bool `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// badRequest reports a malformed request.
func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Class: string(nativecommon.ClassValidation)})
}

// writeError maps an engine error to a status code by its class.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, indexer.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	class := nativecommon.Classify(err)
	status := statusFor(class)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"class", string(class),
			"error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Class: string(class), Retryable: class.Retryable()})
}

func statusFor(class nativecommon.Class) int {
	switch class {
	case nativecommon.ClassAuth:
		return http.StatusForbidden
	case nativecommon.ClassPhase:
		return http.StatusConflict
	case nativecommon.ClassCapacity:
		return http.StatusUnprocessableEntity
	case nativecommon.ClassValidation:
		return http.StatusBadRequest
	case nativecommon.ClassArithmetic:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// requireCaller rejects mutations without an authenticated caller.
func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.CallerFromContext(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errNoCaller.Error(), Class: string(nativecommon.ClassAuth)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerOf(r *http.Request) [20]byte {
	caller, _ := middleware.CallerFromContext(r.Context())
	return caller
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func addrParam(r *http.Request, name string) ([20]byte, error) {
	addr, err := api.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return value, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return value, nil
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xraph/kegsync"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// errorResponse is the body written for every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("http request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, kegsync.ErrInvalidTransition),
		errors.Is(err, kegsync.ErrPalletExists),
		errors.Is(err, kegsync.ErrBatchExists),
		errors.Is(err, kegsync.ErrLabelAlreadySent),
		errors.Is(err, kegsync.ErrDeliveryInFlight):
		return http.StatusConflict
	case errors.Is(err, kegsync.ErrInvalidCapture),
		errors.Is(err, kegsync.ErrInvalidPalletStatus),
		errors.Is(err, kegsync.ErrNoPayload):
		return http.StatusBadRequest
	case errors.Is(err, kegsync.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, kegsync.ErrBatchNotFound) ||
		errors.Is(err, kegsync.ErrPalletNotFound) ||
		errors.Is(err, kegsync.ErrRetryNotFound) ||
		errors.Is(err, kegsync.ErrAlertNotFound) ||
		errors.Is(err, kegsync.ErrEventNotFound)
}

// page reads limit and offset from the query string.
func page(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, v)
	}
	return b, nil
}

// decodeBody decodes an optional JSON body into v. An empty body is not an
// error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pairlink/pairlink/libtracker"
)

// Encode writes v as a JSON response with the given status code.
func Encode[T any](w http.ResponseWriter, r *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Decode reads the request body into a value of type T.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, ErrEmptyRequestBody
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, ErrEmptyRequestBody
		}
		return v, fmt.Errorf("%w: %s", ErrUnprocessableEntity, err.Error())
	}
	return v, nil
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code"`
}

// Error maps err to an HTTP status for the given operation and writes the
// structured error envelope. It returns the error it was given so call
// sites can bubble it further if they need to.
func Error(w http.ResponseWriter, r *http.Request, err error, op Operation) error {
	status := mapErrorToStatus(op, err)

	errorType, errorCode := getErrorMapping(err)
	message := err.Error()
	var param *string

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		message = apiErr.Message()
		if apiErr.Param() != "" {
			p := apiErr.Param()
			param = &p
		}
		if apiErr.Type() != "" {
			errorType = apiErr.Type()
		}
		if apiErr.Code() != "" {
			errorCode = apiErr.Code()
		}
	}
	if errorType == "" {
		errorType, errorCode = getErrorTypeAndCode(status)
	}

	ctx := r.Context()
	slog.ErrorContext(ctx, "request failed",
		"status", status,
		"error_type", errorType,
		"error_code", errorCode,
		"request_id", libtracker.RequestID(ctx),
		"path", r.URL.Path,
		"error", err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{
		Message: message,
		Type:    errorType,
		Param:   param,
		Code:    errorCode,
	}}); encodeErr != nil {
		return encodeErr
	}
	return err
}

// GetPathParam reads a path wildcard value. The doc string is consumed by
// the API reference generator and has no runtime effect.
func GetPathParam(r *http.Request, name string, doc string) string {
	_ = doc
	return r.PathValue(name)
}

// GetQueryParam reads a query parameter, falling back to defaultValue when
// absent. The doc string is consumed by the API reference generator.
func GetQueryParam(r *http.Request, name, defaultValue string, doc string) string {
	_ = doc
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}
	return value
}

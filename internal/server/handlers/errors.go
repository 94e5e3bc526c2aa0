package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maruel/secdb/internal/server/dto"
	"github.com/maruel/secdb/internal/tabledb"
)

// toAPIError maps storage errors to their HTTP representation.
func toAPIError(err error, db, table string) error {
	var ews dto.ErrorWithStatus
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ews):
		return err
	case errors.Is(err, tabledb.ErrUnknownTable):
		return dto.TableNotFound(table).Wrap(err)
	case errors.Is(err, tabledb.ErrNotFound):
		return dto.NotFound("database " + strconv.Quote(db)).Wrap(err)
	case errors.Is(err, tabledb.ErrAlreadyExists):
		return dto.Conflict("database " + strconv.Quote(db) + " already exists").Wrap(err)
	case errors.Is(err, tabledb.ErrInvalidInput):
		return dto.BadRequest(err.Error()).Wrap(err)
	default:
		return dto.Storage(err)
	}
}

// Status returns the HTTP status, code and client facing message of err.
func Status(err error) (int, dto.ErrorCode, string, map[string]any) {
	var apiErr *dto.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode(), apiErr.Code(), apiErr.Message(), apiErr.Details()
	}
	var ews dto.ErrorWithStatus
	if errors.As(err, &ews) {
		return ews.StatusCode(), ews.Code(), ews.Error(), ews.Details()
	}
	return http.StatusInternalServerError, dto.ErrorCodeInternal, "Internal server error", nil
}

// WriteError writes err as a JSON ErrorResponse.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code, msg, details := Status(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "code", code)
	} else {
		slog.DebugContext(ctx, "Request rejected", "err", err, "status", status, "code", code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := dto.ErrorResponse{Error: dto.ErrorDetails{Code: code, Message: msg}, Details: details}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "Failed to encode error response", "err", err)
	}
}

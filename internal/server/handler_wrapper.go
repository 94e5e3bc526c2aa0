package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/maruel/secdb/internal/server/dto"
	"github.com/maruel/secdb/internal/server/handlers"
)

// maxBodyBytes bounds request bodies of both surfaces.
const maxBodyBytes = 1 << 20

// Wrap adapts a typed JSON handler to http.Handler.
//
// The request is built from the JSON body, then the fields tagged `path:"x"`
// are filled from r.PathValue("x") and the fields tagged `query:"x"` from the
// URL query. It is validated before fn is called.
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input := PtrIn(new(In))
		if err := readAndDecodeBody(w, r, input); err != nil {
			handlers.WriteError(ctx, w, err)
			return
		}
		if err := populatePathParams(r, input); err != nil {
			handlers.WriteError(ctx, w, err)
			return
		}
		if err := populateQueryParams(r, input); err != nil {
			handlers.WriteError(ctx, w, err)
			return
		}
		if err := input.Validate(); err != nil {
			handlers.WriteError(ctx, w, err)
			return
		}
		output, err := fn(ctx, input)
		writeJSONResponse(ctx, w, output, err)
	})
}

func readAndDecodeBody(w http.ResponseWriter, r *http.Request, input any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return dto.PayloadTooLarge(maxErr.Limit)
		}
		return dto.BadRequest("Failed to read request body").Wrap(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(input); err != nil {
		return dto.BadRequest("Invalid request body").WithDetail("reason", err.Error()).Wrap(err)
	}
	return nil
}

// setField assigns a textual parameter to a string, int or
// encoding.TextUnmarshaler field.
func setField(v reflect.Value, name, s string) error {
	switch {
	case v.Kind() == reflect.String:
		v.SetString(s)
	case v.Kind() == reflect.Int:
		i, err := strconv.Atoi(s)
		if err != nil {
			return dto.InvalidFormat(name, "not a number")
		}
		v.SetInt(int64(i))
	default:
		u, ok := v.Addr().Interface().(encoding.TextUnmarshaler)
		if !ok {
			return dto.Internal("unsupported parameter type for " + name)
		}
		if err := u.UnmarshalText([]byte(s)); err != nil {
			return dto.InvalidFormat(name, err.Error())
		}
	}
	return nil
}

func populatePathParams(r *http.Request, input any) error {
	elem := reflect.ValueOf(input).Elem()
	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("path")
		if tag == "" {
			continue
		}
		if v := r.PathValue(tag); v != "" {
			if err := setField(elem.Field(i), tag, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func populateQueryParams(r *http.Request, input any) error {
	elem := reflect.ValueOf(input).Elem()
	typ := elem.Type()
	query := r.URL.Query()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("query")
		if tag == "" || !query.Has(tag) {
			continue
		}
		if err := setField(elem.Field(i), tag, query.Get(tag)); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		handlers.WriteError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

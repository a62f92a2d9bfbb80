package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/batchlu/internal/solver"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeFactorError maps request and dispatch failures onto status codes:
// anything rejected before device work is a 400, the rest a 500.
func writeFactorError(c *echo.Context, err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), paramOf(err), "")
	}
	var se *solver.Error
	if errors.As(err, &se) {
		if se.Code == solver.CodeInvalidArgument {
			return writeError(c, http.StatusBadRequest, "invalid_request_error", se.Error(), "", se.Code.String())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", se.Error(), "", se.Code.String())
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// parseDims accepts "4,3,3" or "4x3x3".
func parseDims(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("dims is required")
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == 'x' })
	dims := make([]int64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q", f)
		}
		dims = append(dims, v)
	}
	return dims, nil
}

func newGetrfID() string {
	return "getrf_" + uuid.NewString()
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

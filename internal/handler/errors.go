package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/model"
)

// errorKinds maps each taxonomy error to its status.  Order matters: a
// storage failure wrapped around a domain error reports the storage
// failure.
var errorKinds = []struct {
	err    error
	status int
	detail bool // whether the message after the sentinel is safe to show
}{
	{model.ErrStorageUnavailable, http.StatusServiceUnavailable, false},
	{model.ErrUnauthenticated, http.StatusUnauthorized, false},
	{model.ErrForbidden, http.StatusForbidden, false},
	{model.ErrConflict, http.StatusConflict, true},
	{model.ErrNotFound, http.StatusNotFound, false},
	{model.ErrDomainInvariant, http.StatusBadRequest, true},
	{model.ErrInvalidInput, http.StatusBadRequest, true},
}

// writeError renders err as {"error": "..."} with the status of its kind.
// Unauthenticated and forbidden outcomes never carry a reason.
func writeError(c echo.Context, err error) error {
	status, msg := classify(err)
	log := logger.From(c.Request().Context())
	if status >= 500 {
		log.Error("request failed", slog.Int("status", status), slog.Any("err", err))
	} else {
		log.Debug("request rejected", slog.Int("status", status), slog.Any("err", err))
	}
	return c.JSON(status, echo.Map{"error": msg})
}

func classify(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, "request timed out"
	}
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		msg := k.err.Error()
		if k.detail {
			if d := detailAfter(err.Error(), msg); d != "" {
				msg = d
			}
		}
		return k.status, msg
	}
	return http.StatusInternalServerError, "internal error"
}

// detailAfter returns the text following "sentinel: " in full, which is
// the human part of a wrapped error, e.g. "username already exists".
func detailAfter(full, sentinel string) string {
	i := strings.LastIndex(full, sentinel+": ")
	if i < 0 {
		return ""
	}
	return full[i+len(sentinel)+2:]
}

// HTTPErrorHandler is installed as echo's error handler so errors returned
// by middleware (the gate) and handlers share one mapping.
func HTTPErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		_ = writeError(c, err)
	}
}

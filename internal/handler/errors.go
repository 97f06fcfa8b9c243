package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"geoserver-relay/internal/apperr"
)

// ErrorHandler returns the Echo error handler that writes every error in the
// {message, statusCode, errorCode} shape. The full error is logged; clients
// only ever see the message of a classified error.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			logger.Debug("error after response was committed", "err", err, "path", c.Request().URL.Path)
			return
		}

		body := errorResponse(err)
		if body.StatusCode >= http.StatusInternalServerError {
			logger.Error("request failed", "err", err, "path", c.Request().URL.Path)
		} else {
			logger.Debug("request rejected", "err", err, "path", c.Request().URL.Path)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(body.StatusCode)
		} else {
			writeErr = c.JSON(body.StatusCode, body)
		}
		if writeErr != nil {
			logger.Warn("write error response", "err", writeErr)
		}
	}
}

func errorResponse(err error) apperr.Response {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Response()
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return apperr.Response{
			Message:    msg,
			StatusCode: he.Code,
			ErrorCode:  statusCode(he.Code),
		}
	}

	return apperr.New(apperr.KindInternal, "Internal server error").Response()
}

// statusCode turns a status into an errorCode, e.g. 404 -> NOT_FOUND.
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return apperr.KindInternal.Code()
	}
	return strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(text))
}

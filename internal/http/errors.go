package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/labstack/echo/v4"
)

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, vectorstore.ErrInvalidCollectionName),
		errors.Is(err, conversation.ErrInvalidSession),
		errors.Is(err, expansion.ErrUnknownMode),
		errors.Is(err, fusion.ErrUnknownPolicy):
		return http.StatusBadRequest
	case errors.Is(err, retrieval.ErrRetrieval),
		errors.Is(err, llm.ErrCompletion),
		errors.Is(err, expansion.ErrMalformedExpansion):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// engineError converts err into an *echo.HTTPError. Internal errors keep
// their detail out of the response body.
func engineError(err error) *echo.HTTPError {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	return echo.NewHTTPError(status, msg).SetInternal(err)
}

// errorHandler writes every error as an ErrorResponse.
func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		he, ok := err.(*echo.HTTPError)
		if !ok {
			he = engineError(err)
		}
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(he.Code)
		} else {
			err = c.JSON(he.Code, ErrorResponse{Message: msg})
		}
		if err != nil {
			e.Logger.Error(err)
		}
	}
}

package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/renopulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/renopulse/internal/platform/errors"
	"github.com/pscheid92/renopulse/internal/platform/logging"
)

// correlationMiddleware adopts the ID a peer forwarded or starts a new one, and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromRequest(c.Request())
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Hijacked (upgraded) connections cannot carry an HTTP error body anymore.
			if c.Response().Committed {
				logging.Logger.WarnContext(c.Request().Context(), "Error after response was committed",
					"path", c.Request().URL.Path, "error", err)
				return nil
			}

			var structuredErr *apperrors.Error
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				if structuredErr = WrapHTTPError(httpErr); structuredErr == nil {
					return err
				}
			} else {
				structuredErr = apperrors.AsStructuredError(err)
			}
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeTooLarge:
		logging.Logger.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeRateLimited:
		logging.Logger.InfoContext(ctx, "Rate limited", attrs...)
	case apperrors.TypeNotFound:
		logging.Logger.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict, apperrors.TypeMisdirected:
		logging.Logger.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		logging.Logger.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		logging.Logger.ErrorContext(ctx, "External service error", attrs...)
	default:
		logging.Logger.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// WrapHTTPError maps an echo error onto a structured one. Codes without an error type (405, 415, ...)
// yield nil and are left to echo.
func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := "internal server error"
	if httpErr.Message != nil {
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = apperrors.TypeValidation
	case http.StatusNotFound:
		errType = apperrors.TypeNotFound
	case http.StatusConflict:
		errType = apperrors.TypeConflict
	case http.StatusRequestEntityTooLarge:
		errType = apperrors.TypeTooLarge
	case http.StatusMisdirectedRequest:
		errType = apperrors.TypeMisdirected
	case http.StatusTooManyRequests:
		errType = apperrors.TypeRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		errType = apperrors.TypeExternal
	case http.StatusInternalServerError:
		errType = apperrors.TypeInternal
	default:
		return nil
	}

	err := &apperrors.Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]any),
	}

	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}

	return err
}

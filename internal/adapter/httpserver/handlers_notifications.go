package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/renopulse/internal/broadcast"
	"github.com/pscheid92/renopulse/internal/domain"
	apperrors "github.com/pscheid92/renopulse/internal/platform/errors"
	"github.com/pscheid92/renopulse/internal/platform/logging"
)

func (s *Server) registerNotificationRoutes() {
	api := s.echo.Group("/api/notifications")
	api.GET("/:topic"+broadcast.OpenSuffix, s.handleOpenConnection)

	// Topic-less publishes still reach handlePublish so they are answered with 400, not 404.
	limit := newPublishRateLimiter(s.config.PublishRateLimit, s.config.PublishRateBurst)
	api.POST("/:topic", s.handlePublish, limit)
	api.POST("/", s.handlePublish, limit)
	api.POST("", s.handlePublish, limit)
}

// handleOpenConnection hands the upgrade request to the topic's actor unchanged.
// Errors are plain text because the client is a WebSocket dialer, not a JSON consumer.
func (s *Server) handleOpenConnection(c echo.Context) error {
	ctx := c.Request().Context()

	topic, err := topicParam(c)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	if err := s.notifier.Dispatch(ctx, topic, c.Response(), c.Request()); err != nil {
		if errors.Is(err, domain.ErrInvalidTopic) || errors.Is(err, domain.ErrTopicRequired) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		logging.WithTopic(topic).ErrorContext(ctx, "Open connection failed", "error", err)
		return c.String(http.StatusInternalServerError, domain.ErrInfrastructureUnavailable.Error())
	}
	return nil
}

// handlePublish broadcasts the raw request body to every session of the topic.
func (s *Server) handlePublish(c echo.Context) error {
	ctx := c.Request().Context()

	topic, err := topicParam(c)
	if err != nil {
		return apperrors.ValidationError(err.Error())
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, s.config.MaxMessageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.TooLargeError(fmt.Sprintf("message exceeds %d bytes", tooLarge.Limit))
		}
		return apperrors.ValidationError("failed to read request body")
	}

	msg := domain.Message{Kind: domain.MessageText, Payload: body}
	if c.Request().Header.Get(echo.HeaderContentType) == echo.MIMEOctetStream {
		msg.Kind = domain.MessageBinary
	}

	if err := s.notifier.Publish(ctx, topic, msg); err != nil {
		if errors.Is(err, domain.ErrInvalidTopic) || errors.Is(err, domain.ErrTopicRequired) {
			return apperrors.ValidationError(err.Error())
		}
		return apperrors.InternalError(domain.ErrInfrastructureUnavailable.Error(), err).
			WithField("topic", topic.String())
	}

	if err := c.String(http.StatusOK, broadcast.NotifyResponse); err != nil {
		return fmt.Errorf("failed to write publish response: %w", err)
	}
	return nil
}

func topicParam(c echo.Context) (domain.Topic, error) {
	raw, err := url.PathUnescape(c.Param("topic"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidTopic, err)
	}
	return domain.ParseTopic(raw)
}

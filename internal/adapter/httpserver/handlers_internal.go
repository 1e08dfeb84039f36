package httpserver

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/renopulse/internal/broadcast"
	"github.com/pscheid92/renopulse/internal/domain"
	apperrors "github.com/pscheid92/renopulse/internal/platform/errors"
)

// registerInternalRoutes exposes locally hosted actors to peer instances. These routes never
// forward, so a stale placement answer cannot bounce a request between instances.
func (s *Server) registerInternalRoutes() {
	internal := s.echo.Group("/internal/actors")
	internal.GET("/:id"+broadcast.OpenSuffix, s.handleInternalActor)
	internal.POST("/:id"+broadcast.NotifySuffix, s.handleInternalActor)
}

func (s *Server) handleInternalActor(c echo.Context) error {
	id, err := domain.ParseActorID(c.Param("id"))
	if err != nil {
		return apperrors.NotFoundError("unknown actor")
	}

	actor, err := s.notifier.Hosted(c.Request().Context(), id, c.Request().Header.Get(broadcast.TopicHeader))
	switch {
	case errors.Is(err, domain.ErrUnknownActor):
		return apperrors.NotFoundError("unknown actor").WithField("actor_id", id.String())
	case errors.Is(err, domain.ErrNotOwner):
		return apperrors.MisdirectedError("actor is hosted by another instance", err).WithField("actor_id", id.String())
	case err != nil:
		return apperrors.InternalError(domain.ErrInfrastructureUnavailable.Error(), err).WithField("actor_id", id.String())
	}

	actor.ServeHTTP(c.Response(), c.Request())
	return nil
}

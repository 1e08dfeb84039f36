package domain

import "errors"

var (
	ErrTopicRequired             = errors.New("ID is required")
	ErrInvalidTopic              = errors.New("invalid topic")
	ErrInfrastructureUnavailable = errors.New("notification manager not available")
	ErrActorUnavailable          = errors.New("actor unavailable")
	ErrUnrecognizedIntent        = errors.New("not found")
	ErrSessionLimit              = errors.New("session limit reached")
	ErrNotOwner                  = errors.New("actor not owned by this instance")
	ErrUnknownActor              = errors.New("unknown actor")
)

package domain

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	topicMinRunes = 1
	topicMaxRunes = 256
)

// actorNamespace scopes name-based actor identities. Changing it re-keys every topic.
var actorNamespace = uuid.MustParse("5c0f3e4a-7d52-4b8e-9a61-3f2d8c1b7e90")

// Topic is the routing key partitioning notification traffic, typically a project id.
type Topic string

// ParseTopic validates a raw routing key.
func ParseTopic(raw string) (Topic, error) {
	if raw == "" {
		return "", ErrTopicRequired
	}
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: must be valid UTF-8", ErrInvalidTopic)
	}
	if n := utf8.RuneCountInString(raw); n < topicMinRunes || n > topicMaxRunes {
		return "", fmt.Errorf("%w: length must be %d-%d characters", ErrInvalidTopic, topicMinRunes, topicMaxRunes)
	}
	return Topic(raw), nil
}

// ActorID derives the stable identity of the actor serving this topic.
// The derivation is deterministic across processes.
func (t Topic) ActorID() ActorID {
	return ActorID(uuid.NewSHA1(actorNamespace, []byte(t)))
}

func (t Topic) String() string { return string(t) }

// ActorID identifies one addressable topic actor.
type ActorID uuid.UUID

// ParseActorID parses the textual form produced by ActorID.String.
func ParseActorID(s string) (ActorID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ActorID{}, fmt.Errorf("parse actor id: %w", err)
	}
	return ActorID(id), nil
}

func (id ActorID) String() string { return uuid.UUID(id).String() }

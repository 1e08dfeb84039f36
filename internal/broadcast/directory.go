package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/logging"
	"golang.org/x/sync/singleflight"
)

const (
	claimTimeout   = 2 * time.Second
	releaseTimeout = 2 * time.Second
)

// LocalPlacement hosts every actor in this process.
type LocalPlacement struct{}

func (LocalPlacement) Claim(context.Context, domain.ActorID) (domain.Claim, error) {
	return domain.Claim{Local: true}, nil
}

func (LocalPlacement) Release(context.Context, domain.ActorID) error { return nil }

// DirectoryOptions configures a Directory. Actor is applied to every actor it creates.
type DirectoryOptions struct {
	Actor      Options
	Placement  *metrics.PlacementMetrics
	HTTPClient *http.Client
}

// Directory resolves topics to actor handles. At most one local actor exists per ActorID, and
// with a shared Placement at most one instance hosts it.
type Directory struct {
	placement domain.Placement
	opts      DirectoryOptions
	forwarder *forwarder

	mu     sync.RWMutex
	actors map[domain.ActorID]*Actor
	closed bool

	group singleflight.Group
}

func NewDirectory(placement domain.Placement, opts DirectoryOptions) *Directory {
	if placement == nil {
		placement = LocalPlacement{}
	}
	opts.Actor = opts.Actor.withDefaults()
	return &Directory{
		placement: placement,
		opts:      opts,
		forwarder: newForwarder(opts.HTTPClient, opts.Placement),
		actors:    make(map[domain.ActorID]*Actor),
	}
}

// Resolve returns the handle for topic, creating the actor if nobody hosts it yet.
func (d *Directory) Resolve(ctx context.Context, topic domain.Topic) (domain.Handle, error) {
	if _, err := domain.ParseTopic(topic.String()); err != nil {
		return nil, err
	}

	id := topic.ActorID()
	if a, ok := d.Local(id); ok {
		return a, nil
	}

	v, err, _ := d.group.Do(id.String(), func() (any, error) {
		return d.claim(ctx, topic, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.Handle), nil
}

// ResolveLocal is Resolve restricted to this instance. It returns ErrNotOwner when a peer
// holds the actor.
func (d *Directory) ResolveLocal(ctx context.Context, topic domain.Topic) (*Actor, error) {
	h, err := d.Resolve(ctx, topic)
	if err != nil {
		return nil, err
	}
	a, ok := h.(*Actor)
	if !ok {
		return nil, domain.ErrNotOwner
	}
	return a, nil
}

// Dispatch hands the request to the topic's actor unchanged.
func (d *Directory) Dispatch(ctx context.Context, topic domain.Topic, w http.ResponseWriter, r *http.Request) error {
	h, err := d.Resolve(ctx, topic)
	if err != nil {
		return err
	}
	h.ServeHTTP(w, r)
	return nil
}

// Publish broadcasts msg to every session of topic.
func (d *Directory) Publish(ctx context.Context, topic domain.Topic, msg domain.Message) error {
	h, err := d.Resolve(ctx, topic)
	if err != nil {
		return err
	}
	return h.Notify(ctx, msg)
}

// Local returns the actor this process hosts for id. It never forwards.
func (d *Directory) Local(id domain.ActorID) (*Actor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actors[id]
	return a, ok
}

// Hosted returns the local actor for id, serving requests a peer forwarded here. When the actor
// is not running (e.g. after a restart) but topic names it, ownership is re-checked with the
// placement and the actor is started again.
func (d *Directory) Hosted(ctx context.Context, id domain.ActorID, topic string) (*Actor, error) {
	if a, ok := d.Local(id); ok {
		return a, nil
	}

	t, err := domain.ParseTopic(topic)
	if err != nil || t.ActorID() != id {
		return nil, domain.ErrUnknownActor
	}
	return d.ResolveLocal(ctx, t)
}

// Len returns the number of locally hosted actors.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.actors)
}

// Evict stops and forgets a local actor whose ownership was lost. The lease is not released
// because it no longer belongs to us.
func (d *Directory) Evict(id domain.ActorID, reason string) {
	d.mu.Lock()
	a, ok := d.actors[id]
	delete(d.actors, id)
	d.mu.Unlock()

	if !ok {
		return
	}
	logging.WithActor(id).Warn("Evicting actor", "reason", reason)
	a.Stop(reason)
}

// Close stops every local actor and releases its placement. New resolves fail afterwards.
func (d *Directory) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	actors := d.actors
	d.actors = make(map[domain.ActorID]*Actor)
	d.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(actors))
	for id, a := range actors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Stop("Server shutting down")
			if err := d.placement.Release(ctx, id); err != nil {
				errCh <- fmt.Errorf("release actor %s: %w", id, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Directory) claim(ctx context.Context, topic domain.Topic, id domain.ActorID) (domain.Handle, error) {
	// Another flight may have finished between the caller's lookup and ours.
	if a, ok := d.Local(id); ok {
		return a, nil
	}

	// The claim outlives the first caller so that joined callers are not failed by its cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimTimeout)
	defer cancel()

	c, err := d.placement.Claim(ctx, id)
	if err != nil {
		d.opts.Placement.Claimed(metrics.ClaimError)
		logging.WithTopic(topic).ErrorContext(ctx, "Actor placement failed", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrInfrastructureUnavailable, err)
	}

	if !c.Local {
		d.opts.Placement.Claimed(metrics.ClaimRemote)
		return d.forwarder.handle(topic, c.Owner)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: directory closed", domain.ErrInfrastructureUnavailable)
	}

	a := NewActor(topic, d.opts.Actor)
	d.actors[id] = a
	d.opts.Placement.Claimed(metrics.ClaimLocal)
	go d.watch(a)

	logging.WithTopic(topic).DebugContext(ctx, "Actor created", "local_actors", len(d.actors))
	return a, nil
}

// watch forgets an actor whose loop died on its own so the next resolve starts a fresh one.
func (d *Directory) watch(a *Actor) {
	<-a.Done()

	d.mu.Lock()
	current, ok := d.actors[a.id]
	if ok && current == a {
		delete(d.actors, a.id)
	}
	d.mu.Unlock()

	if !ok || current != a {
		return
	}

	logging.WithActor(a.id).Warn("Actor exited unexpectedly, releasing placement")
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := d.placement.Release(ctx, a.id); err != nil {
		logging.WithActor(a.id).Error("Failed to release placement", "error", err)
	}
}

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/logging"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	commandBuffer  = 256

	// OpenSuffix and NotifySuffix select the actor intent from the request path.
	OpenSuffix   = "/websocket"
	NotifySuffix = "/notify"

	// NotifyResponse is the body of a successful publish.
	NotifyResponse = "Notification sent"

	originPublish = "publish"
	originInbound = "inbound"
)

// Options configures actors created directly or through a Directory.
type Options struct {
	// MaxSessions caps concurrent sessions per topic. Zero means unlimited.
	MaxSessions int
	// MaxMessageBytes bounds notify bodies and inbound frames. Zero means 64 KiB.
	MaxMessageBytes int64
	Inbound         domain.InboundPolicy
	CheckOrigin     func(*http.Request) bool
	Clock           clockwork.Clock
	Metrics         *metrics.NotifyMetrics
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.Inbound == "" {
		o.Inbound = domain.InboundBroadcast
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// actorCmd is the command interface for the Actor loop.
type actorCmd interface{ isActorCmd() }

type baseActorCmd struct{}

func (baseActorCmd) isActorCmd() {}

type registerCmd struct {
	baseActorCmd
	session *Session
	errCh   chan error
}

type unregisterCmd struct {
	baseActorCmd
	session *Session
	reason  string
}

type broadcastCmd struct {
	baseActorCmd
	msg     domain.Message
	origin  string
	replyCh chan int
}

type sessionCountCmd struct {
	baseActorCmd
	replyCh chan int
}

type stopCmd struct {
	baseActorCmd
	code   int
	reason string
}

// Actor serializes everything that happens to one topic: joins, leaves and broadcasts.
// The session set is only touched by the run goroutine.
type Actor struct {
	id       domain.ActorID
	topic    domain.Topic
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
	cmdCh    chan actorCmd
	sessions map[*Session]struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ domain.Handle = (*Actor)(nil)

// NewActor starts the actor goroutine for topic.
func NewActor(topic domain.Topic, opts Options) *Actor {
	opts = opts.withDefaults()
	a := &Actor{
		id:    topic.ActorID(),
		topic: topic,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		logger:   logging.WithTopic(topic),
		cmdCh:    make(chan actorCmd, commandBuffer),
		sessions: make(map[*Session]struct{}),
		done:     make(chan struct{}),
	}
	opts.Metrics.ActorStarted()
	go a.run()
	return a
}

func (a *Actor) ID() domain.ActorID { return a.id }

func (a *Actor) Topic() domain.Topic { return a.topic }

// Done is closed once the actor loop has exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

// ServeHTTP routes on the request path: ".../websocket" opens a session, POST ".../notify"
// broadcasts the body. Anything else is answered with 404.
func (a *Actor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, OpenSuffix):
		a.serveWebSocket(w, r)
	case strings.HasSuffix(r.URL.Path, NotifySuffix) && r.Method == http.MethodPost:
		a.serveNotify(w, r)
	default:
		logging.Logger.DebugContext(r.Context(), "Request matches no actor intent",
			"topic", a.topic.String(), "method", r.Method, "path", r.URL.Path, "error", domain.ErrUnrecognizedIntent)
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (a *Actor) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		a.logger.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}

	s := newSession(conn, a.opts.Clock, a.opts.Metrics, a.sessionFailed)
	if err := a.register(r.Context(), s); err != nil {
		code := websocket.CloseGoingAway
		if errors.Is(err, domain.ErrSessionLimit) {
			code = websocket.CloseTryAgainLater
		}
		s.stopGraceful(code, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	err = s.readLoop(a.opts.MaxMessageBytes, func(msg domain.Message) {
		a.handleInbound(ctx, s, msg)
	})
	a.remove(s, a.classifyReadError(ctx, s, err))
}

func (a *Actor) serveNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.opts.MaxMessageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	msg := domain.Message{Kind: domain.MessageText, Payload: body}
	if r.Header.Get("Content-Type") == "application/octet-stream" {
		msg.Kind = domain.MessageBinary
	}

	if err := a.Notify(r.Context(), msg); err != nil {
		a.logger.ErrorContext(r.Context(), "Notify failed", "error", err)
		http.Error(w, domain.ErrInfrastructureUnavailable.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, NotifyResponse)
}

func (a *Actor) handleInbound(ctx context.Context, s *Session, msg domain.Message) {
	if a.opts.Inbound != domain.InboundBroadcast {
		return
	}
	if _, err := a.broadcast(ctx, msg, originInbound); err != nil {
		a.logger.WarnContext(ctx, "Inbound rebroadcast failed", "session_id", s.ID(), "error", err)
	}
}

func (a *Actor) classifyReadError(ctx context.Context, s *Session, err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		a.logger.DebugContext(ctx, "Session closed by peer", "session_id", s.ID())
		return metrics.RemovalClosed
	}

	select {
	case <-s.doneCh:
		// We closed the connection ourselves; the unregister has already happened.
		return metrics.RemovalClosed
	default:
	}

	a.logger.WarnContext(ctx, "Session read failed", "session_id", s.ID(), "error", err)
	return metrics.RemovalError
}

// Notify delivers msg to every session currently registered. It returns once the message has
// been queued for all of them.
func (a *Actor) Notify(ctx context.Context, msg domain.Message) error {
	_, err := a.broadcast(ctx, msg, originPublish)
	return err
}

// SessionCount returns the number of registered sessions.
func (a *Actor) SessionCount(ctx context.Context) (int, error) {
	replyCh := make(chan int, 1)
	return request(ctx, a, sessionCountCmd{replyCh: replyCh}, replyCh)
}

// Stop closes every session with a going-away frame and ends the actor loop.
// Blocks until the loop has exited or the stop timeout is reached.
func (a *Actor) Stop(reason string) {
	a.stopWith(websocket.CloseGoingAway, reason)
}

func (a *Actor) stopWith(code int, reason string) {
	a.stopOnce.Do(func() {
		select {
		case a.cmdCh <- stopCmd{code: code, reason: reason}:
		case <-a.done:
			return
		}

		timeout := a.opts.Clock.NewTimer(stopTimeout)
		defer timeout.Stop()

		select {
		case <-a.done:
			a.logger.Debug("Actor stopped", "reason", reason)
		case <-timeout.Chan():
			a.logger.Error("Actor stop timeout exceeded", "timeout", stopTimeout)
		}
	})
}

func (a *Actor) broadcast(ctx context.Context, msg domain.Message, origin string) (int, error) {
	replyCh := make(chan int, 1)
	return request(ctx, a, broadcastCmd{msg: msg, origin: origin, replyCh: replyCh}, replyCh)
}

func (a *Actor) register(ctx context.Context, s *Session) error {
	errCh := make(chan error, 1)
	err, reqErr := request(ctx, a, registerCmd{session: s, errCh: errCh}, errCh)
	if reqErr != nil {
		return reqErr
	}
	return err
}

// remove asks the loop to drop s. Unknown sessions are ignored, so it is safe to call twice.
func (a *Actor) remove(s *Session, reason string) {
	select {
	case a.cmdCh <- unregisterCmd{session: s, reason: reason}:
	case <-a.done:
		s.stop()
	}
}

func (a *Actor) sessionFailed(s *Session, err error) {
	a.logger.Warn("Session send failed", "session_id", s.ID(), "error", err)
	a.opts.Metrics.SendFailed(metrics.RemovalSendError)
	a.remove(s, metrics.RemovalSendError)
}

// request enqueues cmd and waits for its reply, bounded by commandTimeout.
func request[T any](ctx context.Context, a *Actor, cmd actorCmd, replyCh chan T) (T, error) {
	var zero T

	timer := a.opts.Clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case a.cmdCh <- cmd:
	case <-a.done:
		return zero, domain.ErrActorUnavailable
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("%w: command timed out after %v", domain.ErrActorUnavailable, commandTimeout)
	}

	select {
	case v := <-replyCh:
		return v, nil
	case <-a.done:
		return zero, domain.ErrActorUnavailable
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("%w: command timed out after %v", domain.ErrActorUnavailable, commandTimeout)
	}
}

func (a *Actor) run() {
	defer a.opts.Metrics.ActorStopped()
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Actor panic recovered", "panic", r)
			a.opts.Metrics.ActorPanicked()
			a.closeAll(websocket.CloseInternalServerErr, "actor failure")
		}
	}()

	for cmd := range a.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			a.handleRegister(c)
		case unregisterCmd:
			a.handleUnregister(c)
		case broadcastCmd:
			a.handleBroadcast(c)
		case sessionCountCmd:
			c.replyCh <- len(a.sessions)
		case stopCmd:
			a.handleStop(c)
			return
		default:
			a.logger.Warn("Actor received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (a *Actor) handleRegister(c registerCmd) {
	if a.opts.MaxSessions > 0 && len(a.sessions) >= a.opts.MaxSessions {
		a.logger.Warn("Rejecting session: max sessions reached", "max_sessions", a.opts.MaxSessions)
		a.opts.Metrics.SessionRejected()
		c.errCh <- fmt.Errorf("%w (%d)", domain.ErrSessionLimit, a.opts.MaxSessions)
		return
	}

	a.sessions[c.session] = struct{}{}
	a.opts.Metrics.SessionAdded()
	a.logger.Debug("Session registered", "session_id", c.session.ID(), "total_sessions", len(a.sessions))
	c.errCh <- nil
}

func (a *Actor) handleUnregister(c unregisterCmd) {
	if _, ok := a.sessions[c.session]; !ok {
		return
	}

	delete(a.sessions, c.session)
	c.session.stop()
	a.opts.Metrics.SessionRemoved(c.reason)
	a.logger.Debug("Session unregistered", "session_id", c.session.ID(), "reason", c.reason, "remaining_sessions", len(a.sessions))
}

func (a *Actor) handleBroadcast(c broadcastCmd) {
	type removal struct {
		session *Session
		reason  string
	}

	var failed []removal
	delivered := 0
	for s := range a.sessions {
		switch err := s.send(c.msg); {
		case err == nil:
			delivered++
		case errors.Is(err, errQueueFull):
			failed = append(failed, removal{s, metrics.RemovalSlow})
		default:
			failed = append(failed, removal{s, metrics.RemovalSendError})
		}
	}

	for _, f := range failed {
		a.opts.Metrics.SendFailed(f.reason)
		if f.reason == metrics.RemovalSlow {
			a.logger.Warn("Disconnecting slow session", "session_id", f.session.ID())
		}
		a.handleUnregister(unregisterCmd{session: f.session, reason: f.reason})
	}

	a.opts.Metrics.Broadcast(c.origin, delivered)
	c.replyCh <- delivered
}

func (a *Actor) handleStop(c stopCmd) {
	total := len(a.sessions)
	a.closeAll(c.code, c.reason)
	a.logger.Info("Actor shut down", "reason", c.reason, "disconnected_sessions", total)
}

// closeAll closes every session with a close frame, all at once so that stalled peers cost
// one drain timeout in total. Used on stop and during panic recovery.
func (a *Actor) closeAll(code int, reason string) {
	var wg sync.WaitGroup
	for s := range a.sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.stopGraceful(code, reason)
		}()
		delete(a.sessions, s)
		a.opts.Metrics.SessionRemoved(metrics.RemovalEvicted)
	}
	wg.Wait()
}

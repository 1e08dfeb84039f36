package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/pscheid92/renopulse/internal/domain"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
	// closeDrainTimeout bounds how long a graceful stop waits for the writer and the close frame.
	closeDrainTimeout = time.Second
)

var (
	errSessionClosed = errors.New("session closed")
	errQueueFull     = errors.New("session send queue full")
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Session is one accepted connection. The owning actor is the only holder of a *Session.
type Session struct {
	id        uuid.UUID
	conn      Conn
	clock     clockwork.Clock
	metrics   *metrics.NotifyMetrics
	sendCh    chan domain.Message
	doneCh    chan struct{}
	exited    chan struct{}
	stopOnce  sync.Once
	onFailure func(*Session, error)
}

// newSession starts the writer goroutine. onFailure runs at most once, after the writer has
// exited, when a write or ping fails.
func newSession(conn Conn, clock clockwork.Clock, m *metrics.NotifyMetrics, onFailure func(*Session, error)) *Session {
	s := &Session{
		id:        uuid.New(),
		conn:      conn,
		clock:     clock,
		metrics:   m,
		sendCh:    make(chan domain.Message, messageBufferSize),
		doneCh:    make(chan struct{}),
		exited:    make(chan struct{}),
		onFailure: onFailure,
	}
	s.configurePongHandler()
	go s.run()
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

// send queues msg without blocking. It is only called from the actor goroutine.
func (s *Session) send(msg domain.Message) error {
	select {
	case <-s.exited:
		return errSessionClosed
	case <-s.doneCh:
		return errSessionClosed
	default:
	}

	select {
	case s.sendCh <- msg:
		return nil
	default:
		return errQueueFull
	}
}

func (s *Session) run() {
	err := s.writeLoop()
	close(s.exited)
	if err != nil && s.onFailure != nil {
		s.onFailure(s, err)
	}
}

func (s *Session) writeLoop() error {
	ticker := s.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.sendCh:
			start := s.clock.Now()
			if err := s.write(frameType(msg.Kind), msg.Payload); err != nil {
				return err
			}
			s.metrics.ObserveSend(s.clock.Since(start).Seconds())
		case <-ticker.Chan():
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-s.doneCh:
			return nil
		}
	}
}

// readLoop blocks the calling goroutine until the peer goes away or the session is stopped.
// Every inbound data frame is handed to onMessage.
func (s *Session) readLoop(maxMessageBytes int64, onMessage func(domain.Message)) error {
	s.conn.SetReadLimit(maxMessageBytes)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		s.extendReadDeadline()

		switch messageType {
		case websocket.TextMessage:
			onMessage(domain.Message{Kind: domain.MessageText, Payload: data})
		case websocket.BinaryMessage:
			onMessage(domain.Message{Kind: domain.MessageBinary, Payload: data})
		}
	}
}

// stop closes the connection immediately. Safe to call repeatedly and concurrently.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.doneCh)
		_ = s.conn.Close()
	})
	<-s.exited
}

// stopGraceful sends a close frame with the given code and reason before closing. A writer
// still stuck on a dead peer after closeDrainTimeout gets no close frame; the socket is closed
// under it instead.
func (s *Session) stopGraceful(code int, reason string) {
	s.stopOnce.Do(func() {
		close(s.doneCh)

		drain := time.NewTimer(closeDrainTimeout)
		defer drain.Stop()

		select {
		case <-s.exited:
			_ = s.conn.SetWriteDeadline(time.Now().Add(closeDrainTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		case <-drain.C:
		}
		_ = s.conn.Close()
	})
	<-s.exited
}

func (s *Session) write(messageType int, data []byte) error {
	s.setWriteDeadline()
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) configurePongHandler() {
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})
}

// Deadlines are wall-clock: the network stack compares them against real time.
func (s *Session) setWriteDeadline() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (s *Session) extendReadDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
}

func frameType(kind domain.MessageKind) int {
	if kind == domain.MessageBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

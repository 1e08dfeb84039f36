package broadcast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake connection closed")

type frame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Writes are reported on the writes channel; reads are fed
// through inbound.
type fakeConn struct {
	writes    chan frame
	writing   chan struct{}
	inbound   chan frame
	closed    chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	writeErr     error
	blockWrites  bool
	pongHandler  func(string) error
	readDeadline int
	readLimit    int64
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		writes:  make(chan frame, 64),
		writing: make(chan struct{}, 64),
		inbound: make(chan frame, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	writeErr, block := c.writeErr, c.blockWrites
	c.mu.Unlock()

	select {
	case c.writing <- struct{}{}:
	default:
	}
	if block {
		<-c.closed
		return errFakeClosed
	}
	if writeErr != nil {
		return writeErr
	}

	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.writes <- frame{messageType: messageType, data: data}
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline++
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) stallWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockWrites = true
}

// waitWriting blocks until the session writer has entered WriteMessage.
func (c *fakeConn) waitWriting(t *testing.T) {
	t.Helper()
	select {
	case <-c.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never started writing")
	}
}

func (c *fakeConn) readDeadlines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDeadline
}

func (c *fakeConn) nextWrite(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-c.writes:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
		return frame{}
	}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// newTestActor starts an actor behind an httptest server; any path ending in /websocket or
// /notify reaches it.
func newTestActor(t *testing.T, topic string, opts Options) (*Actor, *httptest.Server) {
	t.Helper()

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	actor := NewActor(domain.Topic(topic), opts)
	t.Cleanup(func() { actor.Stop("test done") })

	server := httptest.NewServer(actor)
	t.Cleanup(server.Close)
	return actor, server
}

func dial(t *testing.T, serverURL, path string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

func waitForSessionCount(t *testing.T, a *Actor, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		n, err := a.SessionCount(context.Background())
		return err == nil && n == want
	}, 2*time.Second, 10*time.Millisecond, "expected %d sessions", want)
}

func postNotify(t *testing.T, url, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "text/plain", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

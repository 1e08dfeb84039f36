package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/renopulse/internal/adapter/httpserver"
	"github.com/pscheid92/renopulse/internal/broadcast"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/config"
	"github.com/pscheid92/renopulse/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T) (*httptest.Server, *broadcast.Directory) {
	t.Helper()

	dir := broadcast.NewDirectory(broadcast.LocalPlacement{}, broadcast.DirectoryOptions{})
	cfg := &config.Config{
		AppEnv:              "test",
		AppURL:              "http://localhost:8080",
		Placement:           config.PlacementLocal,
		InboundPolicy:       string(domain.InboundBroadcast),
		MaxSessionsPerTopic: 10,
		MaxMessageBytes:     1024,
		PublishRateLimit:    1000,
		PublishRateBurst:    1000,
	}
	srv := httpserver.NewServer(cfg, dir, prometheus.NewRegistry(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = dir.Close(context.Background())
	})
	return ts, dir
}

func waitForSubscriber(t *testing.T, dir *broadcast.Directory, topic domain.Topic) {
	t.Helper()

	require.Eventually(t, func() bool {
		a, ok := dir.Local(topic.ActorID())
		if !ok {
			return false
		}
		n, err := a.SessionCount(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationsURL(t *testing.T) {
	u, err := notificationsURL("http://localhost:8080/", "orders", "/websocket")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/notifications/orders/websocket", u.String())

	u, err = notificationsURL("https://notify.example.com", "a b", "")
	require.NoError(t, err)
	assert.Equal(t, "https://notify.example.com/api/notifications/a%20b", u.String())

	u, err = notificationsURL("http://localhost:8080/notify/", "tenant/7", "/websocket")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/notify/api/notifications/tenant%2F7/websocket", u.String())
	assert.Equal(t, "/notify/api/notifications/tenant/7/websocket", u.Path)

	_, err = notificationsURL("localhost:8080", "orders", "")
	assert.Error(t, err)
}

func TestPublish_TopicWithSlashStaysOneSegment(t *testing.T) {
	ts, dir := startServer(t)
	target, err := notificationsURL("ws"+strings.TrimPrefix(ts.URL, "http"), "tenant/7", "/websocket")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	go func() { _ = subscribe(ctx, target.String(), out) }()

	waitForSubscriber(t, dir, "tenant/7")

	ack, err := publish(context.Background(), ts.Client(), ts.URL, "tenant/7", []byte("invoice ready"), false)
	require.NoError(t, err)
	assert.Equal(t, "Notification sent", ack)

	require.Eventually(t, func() bool {
		return out.String() == "invoice ready\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublish_NoSubscribers(t *testing.T) {
	ts, _ := startServer(t)

	ack, err := publish(context.Background(), ts.Client(), ts.URL, "orders", []byte("hello"), false)
	require.NoError(t, err)
	assert.Equal(t, "Notification sent", ack)
}

func TestPublish_ServerRejects(t *testing.T) {
	ts, _ := startServer(t)

	_, err := publish(context.Background(), ts.Client(), ts.URL, "orders", bytes.Repeat([]byte("x"), 2048), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "413")
}

func TestSubscribe_PrintsMessages(t *testing.T) {
	ts, dir := startServer(t)
	target := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/notifications/orders/websocket"

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- subscribe(ctx, target, out) }()

	waitForSubscriber(t, dir, "orders")

	_, err := publish(context.Background(), ts.Client(), ts.URL, "orders", []byte("order 42 shipped"), false)
	require.NoError(t, err)
	_, err = publish(context.Background(), ts.Client(), ts.URL, "orders", []byte{0xca, 0xfe}, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return out.String() == "order 42 shipped\ncafe\n"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func TestSubscribe_RejectedHandshakeIsPermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Forbidden", http.StatusForbidden)
	}))
	t.Cleanup(ts.Close)

	err := subscribe(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"), &syncBuffer{})
	require.ErrorIs(t, err, errPolicyViolation)
	assert.Equal(t, retry.Stop, classifySubscribeError(err))
}

func TestClassifySubscribeError(t *testing.T) {
	assert.Equal(t, retry.Retry, classifySubscribeError(errors.New("read: connection reset")))
	assert.Equal(t, retry.Stop, classifySubscribeError(context.Canceled))
	assert.Equal(t, retry.Stop, classifySubscribeError(&retry.PermanentError{Err: errors.New("broken pipe")}))
}

func TestApp_PublishCommand(t *testing.T) {
	ts, _ := startServer(t)

	app := newApp()
	out := &bytes.Buffer{}
	app.Writer = out
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run(context.Background(), []string{"notifyctl", "--server", ts.URL, "publish", "orders", "hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, "Notification sent\n", out.String())
}

func TestApp_PublishFromStdin(t *testing.T) {
	ts, dir := startServer(t)
	_, err := dir.Resolve(context.Background(), "orders")
	require.NoError(t, err)

	app := newApp()
	out := &bytes.Buffer{}
	app.Writer = out
	app.ErrWriter = &bytes.Buffer{}
	app.Reader = strings.NewReader("from stdin")

	err = app.Run(context.Background(), []string{"notifyctl", "-s", ts.URL, "pub", "orders"})
	require.NoError(t, err)
	assert.Equal(t, "Notification sent\n", out.String())
}

func TestApp_PublishRequiresTopic(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run(context.Background(), []string{"notifyctl", "publish"})
	assert.EqualError(t, err, "topic argument is required")
}

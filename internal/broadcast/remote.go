package broadcast

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/correlation"
	"github.com/pscheid92/renopulse/internal/platform/logging"
	"github.com/pscheid92/renopulse/internal/platform/version"
)

const (
	// InternalPrefix is where an instance serves the actors it hosts to its peers.
	InternalPrefix = "/internal/actors/"
	// TopicHeader carries the topic on forwarded requests so the owner can re-adopt the actor.
	TopicHeader = "X-Notify-Topic"

	forwardTimeout = 10 * time.Second

	forwardOpen   = "open"
	forwardNotify = "notify"
)

// InternalPath returns the owner-side path for an actor intent suffix.
func InternalPath(id domain.ActorID, suffix string) string {
	return InternalPrefix + id.String() + suffix
}

type forwarder struct {
	client  *http.Client
	metrics *metrics.PlacementMetrics
}

func newForwarder(client *http.Client, m *metrics.PlacementMetrics) *forwarder {
	if client == nil {
		client = &http.Client{Timeout: forwardTimeout}
	}
	return &forwarder{client: client, metrics: m}
}

func (f *forwarder) handle(topic domain.Topic, owner string) (domain.Handle, error) {
	u, err := url.Parse(owner)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid owner address %q", domain.ErrInfrastructureUnavailable, owner)
	}
	return &remoteActor{
		id:        topic.ActorID(),
		topic:     topic,
		owner:     u,
		forwarder: f,
	}, nil
}

// remoteActor is the handle of an actor hosted by a peer instance.
type remoteActor struct {
	id    domain.ActorID
	topic domain.Topic
	owner *url.URL
	*forwarder
}

var _ domain.Handle = (*remoteActor)(nil)

func (r *remoteActor) ID() domain.ActorID { return r.id }

func (r *remoteActor) endpoint(suffix string) *url.URL {
	u := *r.owner
	u.Path = strings.TrimSuffix(u.Path, "/") + InternalPath(r.id, suffix)
	u.RawPath = ""
	u.RawQuery = ""
	return &u
}

// ServeHTTP proxies the request, WebSocket upgrades included, to the owner.
func (r *remoteActor) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var suffix, kind string
	switch {
	case strings.HasSuffix(req.URL.Path, OpenSuffix):
		suffix, kind = OpenSuffix, forwardOpen
	case strings.HasSuffix(req.URL.Path, NotifySuffix) && req.Method == http.MethodPost:
		suffix, kind = NotifySuffix, forwardNotify
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	target := r.endpoint(suffix)
	logger := logging.WithTopic(r.topic).With("owner", r.owner.String())

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = target.Path
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.SetXForwarded()
			pr.Out.Header.Set(TopicHeader, r.topic.String())
			correlation.Propagate(pr.In.Context(), pr.Out)
		},
		ModifyResponse: func(*http.Response) error {
			r.metrics.Forwarded(kind, "ok")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			r.metrics.Forwarded(kind, "error")
			logger.ErrorContext(req.Context(), "Forwarding to actor owner failed", "error", err)
			http.Error(w, domain.ErrInfrastructureUnavailable.Error(), http.StatusInternalServerError)
		},
	}
	proxy.ServeHTTP(w, req)
}

// Notify posts msg to the owner's notify endpoint.
func (r *remoteActor) Notify(ctx context.Context, msg domain.Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(NotifySuffix).String(), bytes.NewReader(msg.Payload))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}

	contentType := "text/plain; charset=utf-8"
	if msg.Kind == domain.MessageBinary {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", version.UserAgent("server"))
	req.Header.Set(TopicHeader, r.topic.String())
	correlation.Propagate(ctx, req)

	resp, err := r.client.Do(req)
	if err != nil {
		r.metrics.Forwarded(forwardNotify, "error")
		return fmt.Errorf("%w: forward notify to %s: %w", domain.ErrInfrastructureUnavailable, r.owner, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode != http.StatusOK {
		r.metrics.Forwarded(forwardNotify, "error")
		return fmt.Errorf("%w: owner %s answered notify with %d", domain.ErrInfrastructureUnavailable, r.owner, resp.StatusCode)
	}

	r.metrics.Forwarded(forwardNotify, "ok")
	return nil
}

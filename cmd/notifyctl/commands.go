package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/renopulse/internal/platform/logging"
	"github.com/pscheid92/renopulse/internal/platform/retry"
	"github.com/pscheid92/renopulse/internal/platform/version"
	"github.com/urfave/cli/v3"
)

const (
	publishTimeout = 10 * time.Second
	// maxAckBytes bounds how much of a publish response is echoed.
	maxAckBytes = 4 << 10
)

type globalFlags struct {
	server   string
	logLevel string
}

// notificationsURL joins the server base with the topic route. The topic is a single path
// segment, so a "/" inside it is sent as %2F.
func notificationsURL(server, topic, suffix string) (*url.URL, error) {
	base, err := url.Parse(server)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}

	prefix := strings.TrimSuffix(base.EscapedPath(), "/") + "/api/notifications/"
	rawPath := prefix + url.PathEscape(topic) + suffix
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", server, err)
	}

	u := *base
	u.Path, u.RawPath = path, rawPath
	return &u, nil
}

func publishCmd(flags *globalFlags) *cli.Command {
	var binary bool

	return &cli.Command{
		Name:      "publish",
		Aliases:   []string{"pub"},
		Usage:     "Send a notification to every subscriber of a topic",
		UsageText: "notifyctl publish [--binary] <topic> [message]",
		Description: `The message is taken from the remaining arguments, or from stdin when none are given.

Examples:
  notifyctl publish orders "order 42 shipped"
  echo '{"id":42}' | notifyctl publish orders`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "binary",
				Usage:       "deliver the payload as a binary frame",
				Destination: &binary,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			topic, rest, err := topicArg(c)
			if err != nil {
				return err
			}

			var body []byte
			if len(rest) > 0 {
				body = []byte(strings.Join(rest, " "))
			} else {
				data, err := io.ReadAll(c.Root().Reader)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				body = data
			}

			ack, err := publish(ctx, http.DefaultClient, flags.server, topic, body, binary)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(c.Root().Writer, ack)
			return nil
		},
	}
}

// topicArg splits the arguments into the leading topic and the rest.
func topicArg(c *cli.Command) (string, []string, error) {
	if c.Args().Len() == 0 || c.Args().First() == "" {
		return "", nil, errors.New("topic argument is required")
	}
	return c.Args().First(), c.Args().Tail(), nil
}

func publish(ctx context.Context, client *http.Client, server, topic string, body []byte, binary bool) (string, error) {
	target, err := notificationsURL(server, topic, "")
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	contentType := "text/plain; charset=utf-8"
	if binary {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", version.UserAgent("notifyctl"))

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()

	ack, _ := io.ReadAll(io.LimitReader(resp.Body, maxAckBytes))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("publish to %s: server answered %d: %s", topic, resp.StatusCode, strings.TrimSpace(string(ack)))
	}
	return string(ack), nil
}

func subscribeCmd(flags *globalFlags) *cli.Command {
	var maxAttempts int

	return &cli.Command{
		Name:      "subscribe",
		Aliases:   []string{"sub"},
		Usage:     "Print every notification published to a topic",
		UsageText: "notifyctl subscribe <topic>",
		Description: `Opens a WebSocket session and prints one line per received message.
The session is re-established with backoff when the server closes it.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "max-attempts",
				Usage:       "connection attempts before giving up",
				Value:       10,
				Destination: &maxAttempts,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			topic, _, err := topicArg(c)
			if err != nil {
				return err
			}
			target, err := notificationsURL(flags.server, topic, "/websocket")
			if err != nil {
				return err
			}
			switch target.Scheme {
			case "https":
				target.Scheme = "wss"
			default:
				target.Scheme = "ws"
			}

			policy := retry.Policy{
				MaxAttempts:    maxAttempts,
				InitialBackoff: 250 * time.Millisecond,
				MaxBackoff:     10 * time.Second,
				OnRetry: func(attempt int, err error, backoff time.Duration) {
					logging.Logger.Warn("Subscription interrupted, reconnecting", "attempt", attempt, "backoff", backoff, "error", err)
				},
			}
			err = retry.DoVoid(ctx, policy, classifySubscribeError, func(ctx context.Context) error {
				return subscribe(ctx, target.String(), c.Root().Writer)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

var errPolicyViolation = errors.New("session rejected by server")

func classifySubscribeError(err error) retry.Action {
	var permanent *retry.PermanentError
	if errors.As(err, &permanent) || errors.Is(err, errPolicyViolation) || errors.Is(err, context.Canceled) {
		return retry.Stop
	}
	return retry.Retry
}

// subscribe holds one session until it ends and writes each message as a line to out.
func subscribe(ctx context.Context, target string, out io.Writer) error {
	header := http.Header{"User-Agent": []string{version.UserAgent("notifyctl")}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %s", errPolicyViolation, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}
	logging.Logger.Info("Subscribed", "url", target)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()
	defer func() { _ = conn.Close() }()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return fmt.Errorf("%w: %w", errPolicyViolation, err)
			}
			return fmt.Errorf("read: %w", err)
		}

		if kind == websocket.BinaryMessage {
			_, err = fmt.Fprintf(out, "%x\n", data)
		} else {
			_, err = fmt.Fprintln(out, string(data))
		}
		if err != nil {
			return &retry.PermanentError{Err: err}
		}
	}
}

package twitchchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Amund211/chessoverlay/internal/constants"
	"github.com/Amund211/chessoverlay/internal/logging"
	"github.com/Amund211/chessoverlay/internal/reporting"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DEFAULT_URL = "wss://irc-ws.chat.twitch.tv:443"

const (
	// Twitch pings roughly every five minutes
	readTimeout  = 6 * time.Minute
	writeTimeout = 10 * time.Second

	backoffStep = 2 * time.Second
	maxBackoff  = 30 * time.Second
)

type Handler func(ctx context.Context, msg ChatMessage)

type Client struct {
	url       string
	dialer    *websocket.Dialer
	afterFunc func(time.Duration) <-chan time.Time

	reconnects metric.Int64Counter
	messages   metric.Int64Counter
}

func NewClient(url string, afterFunc func(time.Duration) <-chan time.Time) (*Client, error) {
	meter := otel.Meter("chessoverlay/adapters/twitchchat")

	reconnects, err := meter.Int64Counter("twitchchat/reconnects")
	if err != nil {
		return nil, fmt.Errorf("failed to create reconnects metric: %w", err)
	}
	messages, err := meter.Int64Counter("twitchchat/messages")
	if err != nil {
		return nil, fmt.Errorf("failed to create messages metric: %w", err)
	}

	return &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		afterFunc:  afterFunc,
		reconnects: reconnects,
		messages:   messages,
	}, nil
}

func backoff(attempt int) time.Duration {
	return min(time.Duration(attempt)*backoffStep, maxBackoff)
}

// Run relays chat messages from channel to handler until ctx is done, reconnecting on failure
func (c *Client) Run(ctx context.Context, channel string, handler Handler) error {
	channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
	if channel == "" {
		return fmt.Errorf("no channel given")
	}

	ctx = logging.AddMetaToContext(ctx, slog.String("channel", channel))
	logger := logging.FromContext(ctx)

	attempt := 0
	for {
		joined, err := c.session(ctx, channel, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if joined {
			attempt = 0
		}
		attempt++

		wait := backoff(attempt)
		logger.WarnContext(ctx, "Twitch chat connection lost", "error", fmt.Sprint(err), "retryIn", wait.String())
		c.reconnects.Add(ctx, 1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.afterFunc(wait):
		}
	}
}

// session runs one connection. joined reports whether the channel was joined before it ended.
func (c *Client) session(ctx context.Context, channel string, handler Handler) (joined bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial twitch chat: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	})
	defer stop()

	nick := fmt.Sprintf("%s%d", constants.TWITCH_ANONYMOUS_NICK_PREFIX, 10000+rand.IntN(80000))
	for _, line := range []string{
		"CAP REQ :twitch.tv/tags",
		"PASS " + constants.TWITCH_ANONYMOUS_PASS,
		"NICK " + nick,
		"JOIN #" + channel,
	} {
		if err := writeLine(conn, line); err != nil {
			return false, err
		}
	}

	logger := logging.FromContext(ctx)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return joined, fmt.Errorf("failed to read from twitch chat: %w", err)
		}

		for _, raw := range strings.Split(string(data), "\r\n") {
			if raw == "" {
				continue
			}
			msg, err := ParseLine(raw)
			if err != nil {
				logger.DebugContext(ctx, "Ignoring unparseable chat line", "error", err.Error())
				continue
			}

			switch msg.Command {
			case "PING":
				if err := writeLine(conn, "PONG :"+msg.Trailing()); err != nil {
					return joined, err
				}
			case "JOIN":
				if !joined && strings.EqualFold(msg.Nick(), nick) {
					joined = true
					logger.InfoContext(ctx, "Joined twitch chat")
				}
			case "RECONNECT":
				return joined, errors.New("twitch asked us to reconnect")
			case "NOTICE":
				logger.InfoContext(ctx, "Twitch chat notice", "notice", msg.Trailing())
			case "PRIVMSG":
				chat, ok := msg.ChatMessage()
				if !ok {
					continue
				}
				c.messages.Add(ctx, 1, metric.WithAttributes(attribute.Bool("moderator", chat.IsModerator)))
				c.dispatch(ctx, handler, chat)
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, handler Handler, msg ChatMessage) {
	defer func() {
		if r := recover(); r != nil {
			reporting.Report(ctx, fmt.Errorf("chat handler panicked: %v", r), map[string]string{"text": msg.Text})
		}
	}()
	handler(ctx, msg)
}

func writeLine(conn *websocket.Conn, line string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n")); err != nil {
		return fmt.Errorf("failed to write to twitch chat: %w", err)
	}
	return nil
}

package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/protocol"
)

var ErrClientClosed = errors.New("signaling client closed")

// Client is the peer side of the relay. Server events are decoded into
// protocol values and delivered on Events until the connection ends.
type Client struct {
	SessionID string
	UserID    string

	conn    *websocket.Conn
	events  chan any
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

// SignalURL builds the relay endpoint from an http(s) or ws(s) base URL.
func SignalURL(baseURL, sessionID, userID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path += "/api/signal"
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("userId", userID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func Dial(ctx context.Context, baseURL, sessionID, userID, token string, log zerolog.Logger) (*Client, error) {
	target, err := SignalURL(baseURL, sessionID, userID, token)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}

	c := &Client{
		SessionID: sessionID,
		UserID:    userID,
		conn:      conn,
		events:    make(chan any, 64),
		done:      make(chan struct{}),
		log:       log,
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Events() <-chan any {
	return c.events
}

// SendSignal relays sig to peer "to". Delivery is not acknowledged.
func (c *Client) SendSignal(to string, sig protocol.Signal) error {
	msg, err := protocol.NewWebRTCSignal(to, sig)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	return nil
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("signaling connection ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := protocol.ParseServerMessage(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("ignoring unknown signaling frame")
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

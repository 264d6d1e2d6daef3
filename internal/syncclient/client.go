package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/domain"
	"golang.org/x/sync/errgroup"
)

var ErrServer = errors.New("server error")

type Options struct {
	// Base websocket url of the server, for example ws://localhost:8080.
	BaseURL   string
	SessionId string
	UserId    string
	Username  string
	Tolerance time.Duration
	// Period of position reports and sync requests. Zero disables them.
	ReportInterval time.Duration
	// OnError receives ERROR messages sent by the server.
	OnError func(code, message string)
	Logger  *slog.Logger
	Now     func() time.Time
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinedPayload struct {
	HostId string               `json:"hostId"`
	Sync   *domain.SyncResponse `json:"sync"`
}

// Client follows a session as a viewer over a websocket connection.
type Client struct {
	conn     *websocket.Conn
	follower *Follower
	opts     Options
	logger   *slog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	hostId      string
	requestedAt int64
}

func Dial(ctx context.Context, player Player, opts Options) (*Client, error) {
	q := url.Values{}
	q.Set("user-id", opts.UserId)
	q.Set("username", opts.Username)
	u := fmt.Sprintf("%s/api/v1/ws/session/%s/join?%s", opts.BaseURL, url.PathEscape(opts.SessionId), q.Encode())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return newClient(conn, player, opts), nil
}

func newClient(conn *websocket.Conn, player Player, opts Options) *Client {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		conn:     conn,
		follower: NewFollower(player, opts.Tolerance),
		opts:     opts,
		logger:   logger.With("session_id", opts.SessionId, "user_id", opts.UserId),
	}
}

func (c *Client) now() int64 {
	return domain.Millis(c.opts.Now())
}

func (c *Client) HostId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hostId
}

func (c *Client) isHost() bool {
	return c.HostId() == c.opts.UserId
}

func (c *Client) send(msgType string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(map[string]any{"type": msgType, "payload": payload})
}

func (c *Client) RequestSync() error {
	ts := c.now()

	c.mu.Lock()
	c.requestedAt = ts
	c.mu.Unlock()

	return c.send("SYNC_REQUEST", domain.SyncRequest{RequesterId: c.opts.UserId, Timestamp: &ts})
}

func (c *Client) ReportPosition() error {
	return c.send("REPORT_POSITION", map[string]any{
		"observedTime": c.follower.player.CurrentTime(),
		"timestamp":    c.now(),
	})
}

// UpdatePlayback publishes the local playback state. Only the host is
// accepted by the server.
func (c *Client) UpdatePlayback(state domain.PlaybackState) error {
	if state.Timestamp == 0 {
		state.Timestamp = c.now()
	}
	state.HostId = c.opts.UserId

	return c.send("UPDATE_PLAYBACK", state)
}

func (c *Client) TransferHost(newHostId string) error {
	return c.send("TRANSFER_HOST", domain.HostTransfer{PreviousHostId: c.HostId(), NewHostId: newHostId})
}

func (c *Client) UpdateNetworkQuality(q domain.NetworkQuality) error {
	ts := c.now()
	return c.send("UPDATE_NETWORK_QUALITY", domain.NetworkQualityUpdate{UserId: c.opts.UserId, Quality: q, Timestamp: &ts})
}

// Run reads server messages and, when ReportInterval is set, periodically
// reports the player position. It returns when ctx is done or the connection
// fails, closing the connection.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		return c.conn.Close()
	})

	g.Go(func() error {
		return c.readLoop(gctx)
	})

	if c.opts.ReportInterval > 0 {
		g.Go(func() error {
			return c.reportLoop(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return nil
	}

	return err
}

func (c *Client) reportLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.isHost() {
				continue
			}
			if err := c.ReportPosition(); err != nil {
				return fmt.Errorf("failed to report position: %w", err)
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		var msg envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := c.handle(msg); err != nil {
			c.logger.Warn("failed to handle message", "type", msg.Type, "error", err)
		}
	}
}

func (c *Client) handle(msg envelope) error {
	switch msg.Type {
	case "JOINED_SESSION":
		var p joinedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		c.setHost(p.HostId)
		if p.Sync != nil && !c.isHost() {
			_, err := c.follower.ApplyState(p.Sync.PlaybackState, c.now())
			return err
		}
	case "SYNC_RESPONSE":
		var resp domain.SyncResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			return err
		}
		c.setHost(resp.HostId)
		if c.isHost() {
			return nil
		}

		c.mu.Lock()
		requestedAt := c.requestedAt
		c.mu.Unlock()

		_, err := c.follower.Apply(requestedAt, resp)
		return err
	case "SYNC_CORRECTION", "PLAYBACK_STATE":
		var resp domain.SyncResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			return err
		}
		c.setHost(resp.HostId)
		if c.isHost() {
			return nil
		}

		_, err := c.follower.ApplyState(resp.PlaybackState, c.now())
		return err
	case "HOST_TRANSFERRED":
		var p struct {
			Transfer domain.HostTransfer `json:"transfer"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		c.setHost(p.Transfer.NewHostId)
	case "ERROR":
		var p errorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		if c.opts.OnError != nil {
			c.opts.OnError(p.Code, p.Message)
		}
		return fmt.Errorf("%w: %s: %s", ErrServer, p.Code, p.Message)
	}

	return nil
}

func (c *Client) setHost(hostId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hostId = hostId
}

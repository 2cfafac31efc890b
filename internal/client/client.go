// Package client speaks the stage protocol over a websocket. stagectl and
// the end-to-end tests drive the coordinator through it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stagehand/api/internal/geometry"
	"stagehand/api/internal/realtime"
	"stagehand/api/internal/stage"
)

var (
	ErrClosed      = errors.New("connection closed")
	ErrLockRefused = errors.New("lock refused")
)

// Client is one websocket connection to the coordinator.
type Client struct {
	conn      *websocket.Conn
	events    chan realtime.Envelope
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	writeMu sync.Mutex

	mu    sync.Mutex
	err   error
	hello realtime.HelloPayload
}

// Dial connects to a ws:// or wss:// URL. token may be empty for a guest
// connection. Dial returns after the server's hello frame.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan realtime.Envelope, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	env, err := c.Next(ctx, realtime.EventHello)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("await hello: %w", err)
	}
	if err := env.Decode(&c.hello); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// ConnectionID is the id the server uses as lock holder for this client.
func (c *Client) ConnectionID() string { return c.hello.ConnectionID }

// Authenticated reports whether the server accepted the credential.
func (c *Client) Authenticated() bool { return c.hello.Authenticated }

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("client: dropping malformed frame: %v", err)
			continue
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

// Events delivers every inbound frame in arrival order. It is closed when
// the connection ends.
func (c *Client) Events() <-chan realtime.Envelope { return c.events }

// Next waits for the next frame of eventType, discarding others.
func (c *Client) Next(ctx context.Context, eventType string) (realtime.Envelope, error) {
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				return realtime.Envelope{}, c.closedErr()
			}
			if env.Type == eventType {
				return env, nil
			}
		case <-ctx.Done():
			return realtime.Envelope{}, ctx.Err()
		}
	}
}

// NextState waits for the next stage-update and decodes it.
func (c *Client) NextState(ctx context.Context) (stage.State, error) {
	env, err := c.Next(ctx, realtime.EventStageUpdate)
	if err != nil {
		return stage.State{}, err
	}
	var p realtime.StageUpdatePayload
	if err := env.Decode(&p); err != nil {
		return stage.State{}, err
	}
	return p.State, nil
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}

// Send writes one frame.
func (c *Client) Send(eventType string, payload any) error {
	msg, err := realtime.Encode(eventType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

func (c *Client) Join(channelID string) error {
	return c.Send(realtime.EventJoin, realtime.JoinPayload{ChannelID: channelID})
}

// AddElement places an asset. A nil transform uses the server default.
func (c *Client) AddElement(assetID string, t *geometry.Transform) error {
	return c.Send(realtime.EventAddElement, realtime.AddElementPayload{AssetID: assetID, Transform: t})
}

func (c *Client) UpdateElement(instanceID string, patch geometry.Patch) error {
	return c.Send(realtime.EventUpdateElement, realtime.UpdateElementPayload{InstanceID: instanceID, Transform: patch})
}

func (c *Client) RemoveElement(instanceID string) error {
	return c.Send(realtime.EventRemoveElement, realtime.ElementPayload{InstanceID: instanceID})
}

func (c *Client) LockElement(instanceID string) error {
	return c.Send(realtime.EventLockElement, realtime.ElementPayload{InstanceID: instanceID})
}

func (c *Client) UnlockElement(instanceID string) error {
	return c.Send(realtime.EventUnlockElement, realtime.ElementPayload{InstanceID: instanceID})
}

func (c *Client) DragStart(instanceID string) error {
	return c.Send(realtime.EventDragStart, realtime.ElementPayload{InstanceID: instanceID})
}

func (c *Client) Clear() error      { return c.Send(realtime.EventClear, nil) }
func (c *Client) Undo() error       { return c.Send(realtime.EventUndo, nil) }
func (c *Client) ToggleLock() error { return c.Send(realtime.EventToggleLock, nil) }

// AwaitLock waits until the server grants this connection the lock on
// instanceID. An error frame in the meantime means the lock was refused.
// Frames of other types are discarded.
func (c *Client) AwaitLock(ctx context.Context, instanceID string) error {
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				return c.closedErr()
			}
			switch env.Type {
			case realtime.EventElementLocked:
				var p realtime.ElementLockedPayload
				if err := env.Decode(&p); err != nil {
					return err
				}
				if p.InstanceID == instanceID && p.HolderID == c.ConnectionID() {
					return nil
				}
			case realtime.EventError:
				var p realtime.ErrorPayload
				if err := env.Decode(&p); err != nil {
					return err
				}
				return fmt.Errorf("%w: %s: %s", ErrLockRefused, instanceID, p.Message)
			}
		case <-ctx.Done():
			return fmt.Errorf("await lock on %s: %w", instanceID, ctx.Err())
		}
	}
}

// Close sends a close frame and tears down the connection. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/mod/semver"

	"habitd/internal/dates"
)

// writeTimeout bounds a single frame write. A hang here stalls one sync
// cycle without affecting local responsiveness.
const writeTimeout = 5 * time.Second

// Client is the websocket implementation of Store, speaking the sync
// protocol to a habitd hub.
//
// Reads happen on a single reader goroutine started by Dial. Request
// frames (get, get_log) are correlated by id; event frames are fanned out
// to local subscribers. The client never reconnects on its own — a
// dropped connection fails pending requests, and retry is left to the
// next natural sync cycle, matching the controller's failure semantics.
type Client struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan Envelope
	subs    map[string]map[int64]func(Document)
	nextID  int64
	closed  bool

	done chan struct{}
}

// Dial connects to a hub at addr (host:port), performs the hello
// exchange, and starts the reader goroutine. A nil logger defaults to
// stderr.
func Dial(ctx context.Context, addr string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/sync", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial hub at %s: %w", addr, err)
	}
	conn.SetReadLimit(1 << 20)

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan Envelope),
		subs:    make(map[string]map[int64]func(Document)),
		done:    make(chan struct{}),
	}

	if err := c.hello(ctx); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "hello failed")
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// hello exchanges protocol versions and verifies major-version agreement.
func (c *Client) hello(ctx context.Context) error {
	if err := c.write(ctx, Envelope{Type: MessageHello, Proto: ProtocolVersion}); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	_, raw, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read hello reply: %w", err)
	}
	var reply Envelope
	if err := DecodeEnvelope(raw, &reply); err != nil {
		return err
	}
	if reply.Type != MessageHello {
		return fmt.Errorf("unexpected first frame %q, want hello", reply.Type)
	}
	if reply.Error != "" {
		return fmt.Errorf("hub rejected connection: %s", reply.Error)
	}
	if semver.Major(reply.Proto) != semver.Major(ProtocolVersion) {
		return fmt.Errorf("protocol version mismatch: hub %s, client %s", reply.Proto, ProtocolVersion)
	}
	return nil
}

// Close tears down the connection. Pending requests fail; subscribers
// receive no further events.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

// GetGlobalData implements Store.
func (c *Client) GetGlobalData(ctx context.Context, key string) (Document, error) {
	return c.request(ctx, Envelope{Type: MessageGet, Key: key})
}

// GetLogForDate implements Store.
func (c *Client) GetLogForDate(ctx context.Context, date string) (Document, error) {
	return c.request(ctx, Envelope{Type: MessageGetLog, Date: date})
}

// UpdateGlobalData implements Store. Failures are logged, not returned.
func (c *Client) UpdateGlobalData(key string, partial Document) {
	c.fireAndForget(Envelope{Type: MessageUpdate, Key: key}, partial)
}

// UpdateTodayLog implements Store. The date is stamped client-side from
// the device-local calendar.
func (c *Client) UpdateTodayLog(category string, partial Document) {
	c.fireAndForget(Envelope{Type: MessageUpdateLog, Key: category, Date: dates.Today()}, partial)
}

// SubscribeGlobalData implements Store.
func (c *Client) SubscribeGlobalData(key string, onUpdate func(Document)) (func(), error) {
	return c.subscribe(key, onUpdate)
}

// SubscribeTodayLog implements Store. Events for a non-current date are
// filtered out, so a subscriber only ever sees today's record.
func (c *Client) SubscribeTodayLog(onUpdate func(Document)) (func(), error) {
	return c.subscribe(LogStreamKey, onUpdate)
}

func (c *Client) subscribe(key string, onUpdate func(Document)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	c.nextID++
	id := c.nextID
	first := len(c.subs[key]) == 0
	if c.subs[key] == nil {
		c.subs[key] = make(map[int64]func(Document))
	}
	c.subs[key][id] = onUpdate
	c.mu.Unlock()

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.write(ctx, Envelope{Type: MessageSubscribe, Key: key})
		cancel()
		if err != nil {
			c.mu.Lock()
			delete(c.subs[key], id)
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to %q: %w", key, err)
		}
	}

	cancelSub := func() {
		c.mu.Lock()
		delete(c.subs[key], id)
		last := len(c.subs[key]) == 0 && !c.closed
		c.mu.Unlock()

		if last {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := c.write(ctx, Envelope{Type: MessageUnsubscribe, Key: key}); err != nil {
				c.logger.Printf("Failed to unsubscribe from %q: %v", key, err)
			}
			cancel()
		}
	}
	return cancelSub, nil
}

// request sends an envelope with a correlation id and waits for the
// matching result.
func (c *Client) request(ctx context.Context, env Envelope) (Document, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	c.nextID++
	env.ID = c.nextID
	ch := make(chan Envelope, 1)
	c.pending[env.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, env); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", env.Type, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed")
	case reply := <-ch:
		if reply.Error != "" {
			return nil, fmt.Errorf("hub error: %s", reply.Error)
		}
		doc, err := DecodeDocument(reply.Data)
		if err != nil {
			return nil, fmt.Errorf("malformed result payload: %w", err)
		}
		return doc, nil
	}
}

func (c *Client) fireAndForget(env Envelope, partial Document) {
	raw, err := EncodeDocument(partial)
	if err != nil {
		c.logger.Printf("Failed to encode %s payload: %v", env.Type, err)
		return
	}
	env.Data = raw

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.write(ctx, env); err != nil {
		c.logger.Printf("Failed to send %s for %q: %v", env.Type, env.Key, err)
	}
}

func (c *Client) write(ctx context.Context, env Envelope) error {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, raw)
}

// readLoop dispatches incoming frames until the connection drops.
func (c *Client) readLoop() {
	defer close(c.done)
	defer c.failPending()

	for {
		_, raw, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Printf("Connection lost: %v", err)
			}
			return
		}

		var env Envelope
		if err := DecodeEnvelope(raw, &env); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case MessageResult:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			c.mu.Unlock()
			if ok {
				ch <- env
			}

		case MessageEvent:
			c.dispatchEvent(env)

		default:
			c.logger.Printf("Dropping unexpected frame type %q", env.Type)
		}
	}
}

func (c *Client) dispatchEvent(env Envelope) {
	// Log-stream events are scoped to the current local day.
	if env.Key == LogStreamKey && env.Date != dates.Today() {
		return
	}

	doc, err := DecodeDocument(env.Data)
	if err != nil {
		c.logger.Printf("Dropping malformed event for %q: %v", env.Key, err)
		return
	}

	c.mu.Lock()
	fns := make([]func(Document), 0, len(c.subs[env.Key]))
	for _, fn := range c.subs[env.Key] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(CloneDocument(doc))
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- Envelope{Type: MessageResult, ID: id, Error: "connection closed"}
		delete(c.pending, id)
	}
}

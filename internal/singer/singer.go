// Package singer implements the outer state machine that ties the mic-frame
// stream through the encoder, the server connection, and the decoder back
// to playback (spec.md §4.7).
package singer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tphakala/bucketbrigade/internal/clock"
	"github.com/tphakala/bucketbrigade/internal/errors"
	"github.com/tphakala/bucketbrigade/internal/logging"
	"github.com/tphakala/bucketbrigade/internal/metrics"
	"github.com/tphakala/bucketbrigade/internal/session"
	"github.com/tphakala/bucketbrigade/internal/transport"
)

// ComponentSinger is the errors.Component tag for this package.
const ComponentSinger = "singer"

// State is one state of the singer client's lifecycle (spec.md §4.7).
type State int

const (
	Constructed State = iota
	Starting
	Running
	LostConnectivity
	Stopped
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case LostConnectivity:
		return "lost_connectivity"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConnectivityHandler is invoked on every hasConnectivity transition.
type ConnectivityHandler func(connected bool)

// Client is the singer client state machine of spec.md §4.7.
type Client struct {
	mu sync.Mutex

	ctx      *session.Context
	conn     transport.ServerConnection
	username string
	logger   *slog.Logger
	metrics  *metrics.Collector

	state        State
	sendMetadata map[string]any

	onConnectivity []ConnectivityHandler
	unsubscribe    []func()
}

// New constructs a Client in the Constructed state.
func New(sessionCtx *session.Context, conn transport.ServerConnection, username string, collector *metrics.Collector) *Client {
	logger := logging.ForService("singer")
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		ctx:      sessionCtx,
		conn:     conn,
		username: username,
		logger:   logger,
		metrics:  collector,
		state:    Constructed,
	}
}

// State returns the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnConnectivityChange registers h to be called whenever connectivity is
// gained or lost.
func (c *Client) OnConnectivityChange(h ConnectivityHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectivity = append(c.onConnectivity, h)
}

// DeclareEvent accumulates one opaque annotation into the metadata sent
// with the next transmission (spec.md §4.7 "Metadata discipline").
func (c *Client) DeclareEvent(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Before singing has started, declared events are discarded rather
	// than carried forward (spec.md §9 Open Question, resolved: discard).
	if c.state == Constructed {
		return
	}
	if c.sendMetadata == nil {
		c.sendMetadata = make(map[string]any)
	}
	c.sendMetadata[key] = value
}

// StartSinging transitions Constructed -> Starting -> Running, starting
// the session context and subscribing to the player-node message stream.
func (c *Client) StartSinging(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Constructed {
		c.mu.Unlock()
		return errors.New(nil).
			Component(ComponentSinger).
			Category(errors.CategoryState).
			Context("error", "start_singing called outside Constructed state").
			Context("state", c.state.String()).
			Build()
	}
	c.state = Starting
	c.sendMetadata = nil // discard any pre-start declare_event data
	c.mu.Unlock()

	if err := c.ctx.Start(ctx); err != nil {
		c.mu.Lock()
		c.state = Stopped
		c.mu.Unlock()
		return err
	}

	c.subscribe()

	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()
	return nil
}

// Stop transitions to Stopped and releases the player-node subscriptions.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Stopped {
		return
	}
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.unsubscribe = nil
	c.state = Stopped
}

func (c *Client) subscribe() {
	d := c.ctx.Dispatcher()
	c.unsubscribe = append(c.unsubscribe,
		d.Subscribe(session.MsgException, func(m session.Message) { c.fail("exception", m.Exception) }),
		d.Subscribe(session.MsgUnderflow, func(session.Message) { c.fail("underflow", nil) }),
		d.Subscribe(session.MsgSamplesOut, func(m session.Message) { c.handleSamplesOut(m) }),
	)
}

func (c *Client) fail(reason string, payload any) {
	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
	c.logger.Error("singer client stopped on fatal player event", "reason", reason, "payload", payload)
}

func (c *Client) handleSamplesOut(m session.Message) {
	audioChunk, ok := m.Chunk.(clock.AudioChunk)
	if !ok {
		return
	}
	if err := c.ctx.AppendMicSamples(audioChunk); err != nil {
		c.logger.Error("failed to append mic samples", "error", err)
		return
	}

	for {
		batch, ready, err := c.ctx.DrainBatch()
		if err != nil {
			c.logger.Error("failed to drain mic batch", "error", err)
			return
		}
		if !ready {
			return
		}
		if err := c.processBatch(context.Background(), batch); err != nil {
			c.logger.Error("failed to process mic batch", "error", err)
			return
		}
	}
}

func (c *Client) processBatch(ctx context.Context, batch clock.AudioChunk) error {
	encoded, err := c.ctx.Encode(ctx, batch)
	if err != nil {
		return err
	}

	payload := transport.ChunkPayload{End: encoded.Interval().End, Length: encoded.Interval().Length}
	switch enc := encoded.(type) {
	case clock.CompressedAudioChunk:
		payload.Data = enc.Data
	case clock.PlaceholderChunk:
		payload.IsPlaceholder = true
	}

	c.mu.Lock()
	metadata := map[string]any{"username": c.username}
	for k, v := range c.sendMetadata {
		metadata[k] = v
	}
	c.mu.Unlock()

	epoch := c.ctx.Epoch()
	token := epoch.Track()
	resp, err := c.conn.Send(ctx, transport.Request{Chunk: payload, Metadata: metadata, Epoch: epoch.Current()})
	if err != nil {
		epoch.Forget(token)
		return err
	}
	if resp == nil {
		epoch.Forget(token)
		c.setConnectivity(false)
		return nil
	}
	c.setConnectivity(true)

	c.mu.Lock()
	c.sendMetadata = nil
	c.mu.Unlock()

	// A reload_settings between dispatch and response advances the epoch;
	// honoring this response would resurrect clock state from before the
	// reset (spec.md §9 "Epoch handling"), so it is dropped rather than
	// decoded.
	stale := !epoch.Valid(token)
	epoch.Forget(token)
	if stale {
		c.logger.Warn("dropping stale server response after epoch advance")
		return nil
	}

	if resp.Chunk == nil {
		return nil
	}

	settings := c.ctx.Settings()
	serverRef := clock.ServerRef(settings.CodecRate)
	var serverChunk clock.Chunk
	if resp.Chunk.IsPlaceholder {
		serverChunk = clock.NewPlaceholderChunk(serverRef, resp.Chunk.End, resp.Chunk.Length)
	} else {
		compressed, err := clock.NewCompressedAudioChunk(clock.Interval{Reference: serverRef, End: resp.Chunk.End, Length: resp.Chunk.Length}, resp.Chunk.Data)
		if err != nil {
			return err
		}
		serverChunk = compressed
	}

	decoded, err := c.ctx.Decode(ctx, serverChunk)
	if err != nil {
		return err
	}

	c.ctx.Dispatcher().Publish(session.Message{Type: session.MsgSamplesIn, Chunk: decoded})
	return nil
}

func (c *Client) setConnectivity(connected bool) {
	c.metrics.SetConnectivity(connected)

	c.mu.Lock()
	wasLost := c.state == LostConnectivity
	changed := connected == wasLost
	if connected {
		if wasLost {
			c.state = Running
		}
	} else {
		c.state = LostConnectivity
	}
	handlers := append([]ConnectivityHandler(nil), c.onConnectivity...)
	c.mu.Unlock()

	if changed {
		for _, h := range handlers {
			h(connected)
		}
	}
}

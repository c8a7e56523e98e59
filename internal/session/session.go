package session

import (
	"context"
	"log/slog"

	"github.com/tphakala/bucketbrigade/internal/clock"
	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/config"
	"github.com/tphakala/bucketbrigade/internal/decoder"
	"github.com/tphakala/bucketbrigade/internal/encoder"
	"github.com/tphakala/bucketbrigade/internal/logging"
	"github.com/tphakala/bucketbrigade/internal/metrics"
)

// ComponentSession is the errors.Component tag for this package.
const ComponentSession = "session"

// BatchSizeSamples computes spec.md §4.6's sample-batch size in samples:
// round(samples_per_ms · msPerBatch / frameSamples) frames of frameSamples
// samples each.
func BatchSizeSamples(samplingRate, msPerBatch, frameSamples int) int64 {
	totalSamples := int64(samplingRate) * int64(msPerBatch) / 1000
	frames := clock.Round(totalSamples, 1, frameSamples)
	return frames * int64(frameSamples)
}

// Context owns the audio-graph endpoints (encoder/decoder pipelines, the
// player-node dispatcher) and session-wide configuration (spec.md §4.6).
// It is the single site that posts configuration messages to the player
// node, replacing the source's process-wide mutable globals (spec.md §9
// "Global mutable state").
type Context struct {
	cfg       config.Settings
	enc       *encoder.Pipeline
	dec       *decoder.Pipeline
	dispatch  *Dispatcher
	epoch     *Epoch
	mic       *micBuffer
	metrics   *metrics.Collector
	logger    *slog.Logger
	batchSize int64
	started   bool
}

// NewContext constructs a fresh session Context. Callers must construct a
// new Context per session rather than reusing one across singers
// (spec.md §9 "require a fresh context per session").
func NewContext(cfg config.Settings, encWorker codec.EncoderWorker, decWorker codec.DecoderWorker, collector *metrics.Collector) *Context {
	logger := logging.ForService("session")
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := BatchSizeSamples(cfg.SamplingRate, cfg.InitialMsPerBatch, cfg.WorkletFrameSamples)
	maxSize := BatchSizeSamples(cfg.SamplingRate, cfg.MaxMsPerBatch, cfg.WorkletFrameSamples)

	return &Context{
		cfg:       cfg,
		enc:       encoder.New(encWorker, logger, collector),
		dec:       decoder.New(decWorker, logger, collector),
		dispatch:  NewDispatcher(),
		epoch:     NewEpoch(cfg.RPCTimeout),
		mic:       newMicBuffer(maxSize),
		metrics:   collector,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Dispatcher returns the session's pub/sub bus for player-node messages.
func (c *Context) Dispatcher() *Dispatcher { return c.dispatch }

// Settings returns the configuration the context was constructed with.
func (c *Context) Settings() config.Settings { return c.cfg }

// Epoch returns the session's generation tracker.
func (c *Context) Epoch() *Epoch { return c.epoch }

// SampleBatchSize is the number of samples the singer client accumulates
// before one encode/send cycle (spec.md §4.6).
func (c *Context) SampleBatchSize() int64 { return c.batchSize }

// Start sets up the encoder/decoder pipelines' codec workers on first use
// and resets both pipelines on every later call, per spec.md §4.6
// ("lazily created on first start and reused across resets").
func (c *Context) Start(ctx context.Context) error {
	if c.started {
		if err := c.enc.Reset(ctx); err != nil {
			return err
		}
		return c.dec.Reset(ctx)
	}
	if err := c.enc.Setup(ctx, encoder.Config{
		ClientRate:      c.cfg.SamplingRate,
		ServerRate:      c.cfg.CodecRate,
		FrameDurationMS: c.cfg.OpusFrameMS,
	}); err != nil {
		return err
	}
	if err := c.dec.Setup(ctx, decoder.Config{
		ClientRate:       c.cfg.SamplingRate,
		ServerRate:       c.cfg.CodecRate,
		ToleranceSamples: c.cfg.DecodeLengthToleranceSamples,
	}); err != nil {
		return err
	}
	c.started = true
	return nil
}

// ReloadSettings is the atomic restart point (spec.md §4.6): it stops the
// player, resets both pipelines, advances the session epoch so responses
// to server requests tracked before the reset are reported stale (see
// Epoch), then re-announces audio parameters.
func (c *Context) ReloadSettings(ctx context.Context, startup bool) error {
	c.dispatch.Publish(Message{Type: MsgStop})

	if err := c.enc.Reset(ctx); err != nil {
		return err
	}
	if err := c.dec.Reset(ctx); err != nil {
		return err
	}

	newEpoch := c.epoch.Advance()
	c.dispatch.Publish(Message{
		Type:  MsgAudioParams,
		Epoch: newEpoch,
	})
	c.logger.Info("session settings reloaded", "startup", startup, "epoch", newEpoch)
	return nil
}

// AppendMicSamples feeds a client-referenced chunk of worklet-delivered
// mic samples into the batching buffer.
func (c *Context) AppendMicSamples(chunk clock.AudioChunk) error {
	return c.mic.Append(chunk)
}

// DrainBatch reports whether a full batch is ready and, if so, removes and
// returns it.
func (c *Context) DrainBatch() (clock.AudioChunk, bool, error) {
	if c.mic.Len() < c.batchSize {
		return clock.AudioChunk{}, false, nil
	}
	chunk, err := c.mic.Drain(c.batchSize)
	if err != nil {
		return clock.AudioChunk{}, false, err
	}
	return chunk, true, nil
}

// Encode drives the encoder pipeline for one batch.
func (c *Context) Encode(ctx context.Context, chunk clock.Chunk) (clock.Chunk, error) {
	return c.enc.EncodeChunk(ctx, chunk)
}

// Decode drives the decoder pipeline for one server response chunk.
func (c *Context) Decode(ctx context.Context, chunk clock.Chunk) (clock.Chunk, error) {
	return c.dec.DecodeChunk(ctx, chunk)
}

// EncodingLatencyMS reports the local encode/decode pipeline latency for
// the player's latency compensation (spec.md §4.6): the fixed Opus cost
// plus a per-direction resampler cost if either pipeline is resampling,
// forced to zero when a synthetic source is active.
func (c *Context) EncodingLatencyMS(syntheticSource bool) float64 {
	if syntheticSource {
		return 0
	}
	latency := c.cfg.OpusAddedLatencyMS
	if c.enc.Resampling() {
		latency += c.cfg.ResamplerAddedLatencyMS
	}
	if c.dec.Resampling() {
		latency += c.cfg.ResamplerAddedLatencyMS
	}
	return latency
}

// Started reports whether Start has completed successfully at least once.
func (c *Context) Started() bool { return c.started }

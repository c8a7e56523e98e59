// Package decoder implements the server-to-client decoding pipeline
// (spec.md §4.5): the mirror image of internal/encoder. It accepts
// server-referenced chunks and emits client-referenced chunks, dispatching
// every packet of a compressed chunk to the codec worker before awaiting
// any response so that per-chunk ordering survives interleaved RPCs.
package decoder

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/bucketbrigade/internal/clock"
	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/errors"
	"github.com/tphakala/bucketbrigade/internal/framing"
	"github.com/tphakala/bucketbrigade/internal/metrics"
)

// ComponentDecoder is the errors.Component tag for this package.
const ComponentDecoder = "decoder"

// Config configures one pipeline instance (spec.md §4.5, §6.1).
type Config struct {
	ClientRate int
	ServerRate int

	// ToleranceSamples bounds how far the decoded sample count may drift
	// from the expected length before it is treated as a fatal mismatch
	// rather than ordinary resampler rounding (spec.md §4.5 step 4).
	ToleranceSamples int64
}

// Pipeline is the stateful decoder described by spec.md §4.5.
type Pipeline struct {
	worker  codec.DecoderWorker
	pending codec.PendingQueue
	ids     codec.IDGenerator
	logger  *slog.Logger
	metrics *metrics.Collector

	cfg        Config
	resampling bool

	serverClock *int64
	clientClock *int64

	placeholderEnd     int64
	lastPlaceholderEnd *int64
}

// Resampling reports whether the underlying worker is resampling
// server-rate audio down to the client rate (feeds encoding_latency_ms,
// spec.md §4.6).
func (p *Pipeline) Resampling() bool { return p.resampling }

// New constructs a Pipeline. logger and collector may be nil.
func New(worker codec.DecoderWorker, logger *slog.Logger, collector *metrics.Collector) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{worker: worker, logger: logger, metrics: collector}
}

// Setup establishes the pipeline's clock rates and readies the codec worker.
func (p *Pipeline) Setup(ctx context.Context, cfg Config) error {
	result, err := p.worker.Setup(ctx, codec.SetupConfig{SamplingRate: cfg.ClientRate, NumChannels: 1})
	if err != nil {
		p.metrics.RecordCodecError("decoder", "setup")
		return errors.New(err).
			Component(ComponentDecoder).
			Category(errors.CategorySetup).
			Context("error", "decoder worker setup failed").
			Build()
	}
	p.cfg = cfg
	p.resampling = result.Resampling
	p.serverClock = nil
	p.clientClock = nil
	p.placeholderEnd = 0
	p.lastPlaceholderEnd = nil
	p.pending.Reset()
	return nil
}

// Reset clears pipeline state without re-running worker setup.
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.worker.Reset(ctx); err != nil {
		return errors.New(err).
			Component(ComponentDecoder).
			Category(errors.CategoryCodecRPC).
			Context("error", "decoder worker reset failed").
			Build()
	}
	p.serverClock = nil
	p.clientClock = nil
	p.placeholderEnd = 0
	p.lastPlaceholderEnd = nil
	p.pending.Reset()
	return nil
}

// DecodeChunk processes one server-referenced chunk, returning the
// client-referenced chunk it produces (spec.md §4.5).
func (p *Pipeline) DecodeChunk(ctx context.Context, chunk clock.Chunk) (clock.Chunk, error) {
	if err := clock.CheckReference(chunk, clock.ServerRef(p.cfg.ServerRate)); err != nil {
		return nil, err
	}

	switch c := chunk.(type) {
	case clock.PlaceholderChunk:
		return p.decodePlaceholder(c)
	case clock.CompressedAudioChunk:
		return p.decodeAudio(ctx, c)
	default:
		return nil, errors.New(nil).
			Component(ComponentDecoder).
			Category(errors.CategoryValidation).
			Context("error", "unsupported chunk type presented to decoder").
			Build()
	}
}

func (p *Pipeline) decodePlaceholder(c clock.PlaceholderChunk) (clock.Chunk, error) {
	if p.serverClock != nil {
		return nil, errors.New(nil).
			Component(ComponentDecoder).
			Category(errors.CategoryState).
			Context("error", "placeholder arrived after clocks were established").
			Build()
	}
	if p.lastPlaceholderEnd != nil && c.Iv.Start() != *p.lastPlaceholderEnd {
		return nil, errors.New(nil).
			Component(ComponentDecoder).
			Category(errors.CategoryContiguity).
			Context("error", "non-contiguous placeholder input").
			Context("expected_start", *p.lastPlaceholderEnd).
			Context("got_start", c.Iv.Start()).
			Build()
	}
	end := c.Iv.End
	p.lastPlaceholderEnd = &end

	clientLength := clock.Round(c.Iv.Length, p.cfg.ClientRate, p.cfg.ServerRate)
	p.placeholderEnd += clientLength
	if p.metrics != nil {
		p.metrics.RecordPlaceholderSamples("decoder", clientLength)
	}
	p.metrics.RecordDecoded("placeholder")
	return clock.NewPlaceholderChunk(clock.ClientRef(p.cfg.ClientRate), p.placeholderEnd, clientLength), nil
}

type decodeOutcome struct {
	result codec.DecodeResult
	err    error
}

func (p *Pipeline) decodeAudio(ctx context.Context, c clock.CompressedAudioChunk) (clock.Chunk, error) {
	if p.serverClock == nil {
		start := c.Iv.Start()
		p.serverClock = &start
		cc := clock.Round(start, p.cfg.ClientRate, p.cfg.ServerRate)
		p.clientClock = &cc
	} else if c.Iv.Start() != *p.serverClock {
		return nil, errors.New(nil).
			Component(ComponentDecoder).
			Category(errors.CategoryContiguity).
			Context("error", "non-contiguous compressed audio input").
			Context("expected_start", *p.serverClock).
			Context("got_start", c.Iv.Start()).
			Build()
	}

	packets, err := framing.UnpackMulti(c.Data)
	if err != nil {
		return nil, err
	}

	// Dispatch every packet before awaiting any response, so a slow
	// response to packet 0 cannot stall the request for packet 1.
	ids := make([]codec.RequestID, len(packets))
	results := make([]chan decodeOutcome, len(packets))
	for i, pkt := range packets {
		id := p.ids.Next()
		p.pending.Push(id)
		ids[i] = id
		ch := make(chan decodeOutcome, 1)
		results[i] = ch
		go func(id codec.RequestID, data []byte, ch chan<- decodeOutcome) {
			rpcStart := time.Now()
			res, err := p.worker.Decode(ctx, id, data)
			p.metrics.ObserveRPCDuration("decoder", time.Since(rpcStart).Seconds())
			ch <- decodeOutcome{result: res, err: err}
		}(id, pkt, ch)
	}

	samples := make([]float32, 0, c.Iv.Length)
	for _, ch := range results {
		outcome := <-ch
		if outcome.err != nil {
			p.metrics.RecordCodecError("decoder", "decode")
			return nil, errors.New(outcome.err).
				Component(ComponentDecoder).
				Category(errors.CategoryCodecRPC).
				Context("error", "decoder worker RPC failed").
				Build()
		}
		if popErr := p.pending.Pop(outcome.result.RequestID); popErr != nil {
			return nil, popErr
		}
		samples = append(samples, outcome.result.Samples...)
	}

	expected := clock.Round(c.Iv.Length, p.cfg.ClientRate, p.cfg.ServerRate)
	got := int64(len(samples))
	if drift := got - expected; drift >= p.cfg.ToleranceSamples || -drift >= p.cfg.ToleranceSamples {
		return nil, errors.New(nil).
			Component(ComponentDecoder).
			Category(errors.CategoryDecodeLengthMismatch).
			Context("error", "decoded sample count does not match expected length").
			Context("expected", expected).
			Context("got", got).
			Context("tolerance", p.cfg.ToleranceSamples).
			Build()
	}

	*p.serverClock = c.Iv.End
	*p.clientClock += int64(len(samples))

	p.metrics.SetClocks("decoder", *p.clientClock, *p.serverClock)
	p.metrics.RecordDecoded("audio")

	return clock.NewAudioChunk(clock.Interval{
		Reference: clock.ClientRef(p.cfg.ClientRate),
		End:       *p.clientClock,
		Length:    int64(len(samples)),
	}, samples)
}
